package treemeter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// PlantTrees reports trees planted by the owner of apiKey. trees is the raw
// count from the request; empty means one. The usage record is sent to the
// provider before the user is updated.
func (s *Service) PlantTrees(ctx context.Context, apiKey, trees string) (*User, error) {
	if apiKey == "" {
		return nil, BadRequest("Missing `apiKey` query parameter")
	}
	n, err := ParseTrees(trees)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByAPIKey(ctx, apiKey)
	if errors.Is(err, ErrUserNotFound) {
		return nil, NotFound("Could not find the user")
	}
	if err != nil {
		return nil, fmt.Errorf("find user by api key: %w", err)
	}

	if !user.HasSubscription() {
		return nil, BadRequest(fmt.Sprintf(
			"It seems that you haven't setup your credit card details yet. Please head to %s/dashboard.",
			s.frontendURL))
	}

	sub, err := s.billing.RetrieveSubscription(ctx, user.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", user.SubscriptionID, err)
	}
	item, err := sub.SoleItem()
	if err != nil {
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	if err := s.billing.CreateUsageRecord(ctx, &billing.UsageRecordParams{
		Subscription: sub,
		Item:         item,
		Quantity:     n,
		Timestamp:    s.now(),
	}); err != nil {
		return nil, fmt.Errorf("create usage record for %s: %w", item.ID, err)
	}

	updated, err := s.users.Update(ctx, user.ID, &UserUpdate{TreesDelta: n, CreditDelta: -n})
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", user.ID, err)
	}

	s.metrics.RecordTreesPlanted(n)
	s.metrics.RecordCreditDeducted("plant", n)
	s.logger.Debug("Planted trees",
		Field{"user_id", user.ID},
		Field{"trees", n},
		Field{"total", updated.Trees})
	return updated, nil
}

// ParseTrees parses a tree count. Empty is one; anything that is not a
// positive base-10 integer is a BadRequest.
func ParseTrees(raw string) (int64, error) {
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, BadRequest(fmt.Sprintf("`trees` must be a whole number, got %q", raw))
	}
	if n <= 0 {
		return 0, BadRequest("`trees` must be at least 1")
	}
	return n, nil
}
