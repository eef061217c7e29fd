package treemeter

import (
	"context"
	"fmt"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// TotalUsage sums every usage summary of a subscription since it started.
// Pages are walked with the id of the last summary as cursor until the
// provider reports no more.
func (s *Service) TotalUsage(ctx context.Context, subscriptionID string) (int64, error) {
	sub, err := s.billing.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, fmt.Errorf("retrieve subscription %s: %w", subscriptionID, err)
	}

	var (
		total  int64
		cursor string
	)
	for {
		page, err := s.billing.ListUsageSummaries(ctx, sub, &billing.UsageSummaryListParams{
			StartingAfter: cursor,
			Limit:         s.pageSize,
		})
		if err != nil {
			return 0, fmt.Errorf("list usage summaries of %s: %w", subscriptionID, err)
		}

		for _, summary := range page.Data {
			total += summary.TotalUsage
		}

		if !page.HasMore {
			return total, nil
		}
		if len(page.Data) == 0 {
			return 0, fmt.Errorf("%w: subscription %s after %q", ErrStalledPagination, subscriptionID, cursor)
		}
		cursor = page.Data[len(page.Data)-1].ID
	}
}
