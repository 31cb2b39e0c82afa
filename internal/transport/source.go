package transport

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-engine/internal/resilience"
	"github.com/sells-group/outreach-engine/internal/store"
)

// SMTPSource resolves mailers for inboxes backed by a shared SMTP relay.
// Mailers are built lazily and cached per sending identity; breakers are
// shared per provider so one failing relay trips for every inbox on it.
type SMTPSource struct {
	store    store.Store
	cfg      SMTPConfig
	breakers *resilience.ProviderBreakers

	mu      sync.Mutex
	mailers map[string]Mailer
}

// NewSMTPSource builds a source over the given relay settings. Per-inbox
// credentials come from the store at resolution time; cfg supplies the host,
// port, and shared password for the relay.
func NewSMTPSource(st store.Store, cfg SMTPConfig, breakers *resilience.ProviderBreakers) *SMTPSource {
	if breakers == nil {
		breakers = resilience.NewProviderBreakers(resilience.DefaultCircuitBreakerConfig())
	}
	return &SMTPSource{
		store:    st,
		cfg:      cfg,
		breakers: breakers,
		mailers:  make(map[string]Mailer),
	}
}

// MailerFor returns the mailer for a user inbox.
func (s *SMTPSource) MailerFor(ctx context.Context, inboxID string) (Mailer, error) {
	inbox, err := s.store.GetInbox(ctx, inboxID)
	if err != nil {
		return nil, eris.Wrap(err, "transport: resolve inbox")
	}
	return s.mailer(inbox.ID, inbox.Email, string(inbox.Provider)), nil
}

// MailerForAdmin returns the mailer for an admin practice inbox.
func (s *SMTPSource) MailerForAdmin(ctx context.Context, adminInboxID string) (Mailer, error) {
	inbox, err := s.store.GetAdminInbox(ctx, adminInboxID)
	if err != nil {
		return nil, eris.Wrap(err, "transport: resolve admin inbox")
	}
	return s.mailer(inbox.ID, inbox.Email, string(inbox.Provider)), nil
}

func (s *SMTPSource) mailer(id, email, provider string) Mailer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mailers[id]; ok {
		return m
	}

	cfg := s.cfg
	cfg.Username = email
	m := NewSMTPMailer(cfg, s.breakers.Get(provider))
	s.mailers[id] = m
	return m
}
