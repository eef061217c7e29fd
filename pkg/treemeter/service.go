package treemeter

import (
	"time"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// Service is the tree-planting core. It reacts to billing events and to
// the plant-tree trigger, keeping users, the billing provider and the
// ledger in agreement. A Service is stateless and safe for concurrent use;
// races on the same user are resolved by the store's atomic Update.
type Service struct {
	users    UserStore
	ledger   Ledger
	billing  billing.Client
	verifier billing.EventVerifier

	webhookSecret string
	priceID       string
	frontendURL   string
	pageSize      int

	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewService creates a Service from a validated Config.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Service{
		users:         config.Users,
		ledger:        config.Ledger,
		billing:       config.Billing,
		verifier:      config.Verifier,
		webhookSecret: config.WebhookSecret,
		priceID:       config.MeteredPriceID,
		frontendURL:   config.FrontendURL,
		pageSize:      config.UsagePageSize,
		logger:        config.Logger,
		metrics:       config.Metrics,
		now:           config.Now,
	}, nil
}
