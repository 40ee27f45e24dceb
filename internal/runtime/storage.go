package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/drblury/tenantbus/internal/audit"
	"github.com/drblury/tenantbus/internal/registry"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/store/postgres"
	"github.com/drblury/tenantbus/internal/store/sqlite"
	"github.com/drblury/tenantbus/transport"
)

// openStore opens the registry backend named by the configuration.
func (s *Service) openStore(ctx context.Context) (registry.Store, error) {
	switch strings.ToLower(s.Conf.RegistryStore) {
	case configpkg.StoreSQLite:
		st, err := sqlite.Open(ctx, s.Conf.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("open sqlite registry: %w", err)
		}
		s.addCloser(func(context.Context) error { return st.Close() })
		return st, nil
	case configpkg.StorePostgres:
		st, err := postgres.Open(ctx, s.Conf.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres registry: %w", err)
		}
		s.addCloser(func(context.Context) error {
			st.Close()
			return nil
		})
		return st, nil
	default:
		return registry.NewMemoryStore(), nil
	}
}

// buildAuditSink returns sink when given, otherwise an AsyncSink in front of
// the writer the configuration selects. With the store sink the store also
// answers audit queries.
func (s *Service) buildAuditSink(ctx context.Context, sink audit.Sink, store registry.Store) (audit.Sink, error) {
	if s.auditReader == nil && strings.EqualFold(s.Conf.AuditSink, configpkg.AuditSinkStore) {
		if r, ok := store.(audit.Reader); ok {
			s.auditReader = r
		}
	}
	if sink != nil {
		return sink, nil
	}

	writer, err := s.auditWriter(ctx, store)
	if err != nil {
		return nil, err
	}
	async := audit.NewAsyncSink(writer, s.Conf.AuditBufferSize, s.Logger)
	s.addCloser(async.Close)
	return async, nil
}

func (s *Service) auditWriter(ctx context.Context, store registry.Store) (audit.Writer, error) {
	switch strings.ToLower(s.Conf.AuditSink) {
	case configpkg.AuditSinkStore:
		w, ok := store.(audit.Writer)
		if !ok {
			return nil, errors.New("audit: registry store cannot persist audit records")
		}
		return w, nil
	case configpkg.AuditSinkRedis:
		w, err := audit.NewStreamWriter(s.Conf.RedisAddr, s.Conf.AuditStream)
		if err != nil {
			return nil, err
		}
		s.addCloser(func(context.Context) error {
			w.Close()
			return nil
		})
		return w, nil
	case configpkg.AuditSinkTransport:
		pub, err := transport.Build(ctx, s.Conf, loggingpkg.ToWatermill(s.Logger))
		if err != nil {
			return nil, fmt.Errorf("audit transport: %w", err)
		}
		w := audit.NewTransportWriter(pub, s.Conf.AuditTopic)
		s.addCloser(func(context.Context) error { return w.Close() })
		return w, nil
	default:
		return audit.LogWriter{Logger: s.Logger}, nil
	}
}
