package plan

import (
	"context"
	"fmt"
	"strconv"

	"github.com/quotaplane/quotaplane/internal/store"
)

// StoreSource reads plan metadata out of the shared store, one hash per
// plan under "plans:<id>" with the fields the billing sync job writes:
// name, daily_api_limit, monthly_api_limit. Limits arrive as strings in
// provider metadata, so parse failures surface as errors rather than
// silently dropping a ceiling.
type StoreSource struct {
	store   store.Client
	planIDs []string
}

func NewStoreSource(client store.Client, planIDs []string) *StoreSource {
	return &StoreSource{store: client, planIDs: planIDs}
}

func (s *StoreSource) Plans(ctx context.Context) ([]Plan, error) {
	plans := make([]Plan, 0, len(s.planIDs))
	for _, id := range s.planIDs {
		fields, err := s.store.HGetAll(ctx, "plans:"+id)
		if err != nil {
			return nil, fmt.Errorf("load plan %s: %w", id, err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("plan %s not present in store", id)
		}

		p := Plan{ID: id, Name: fields["name"]}
		if raw, ok := fields["daily_api_limit"]; ok {
			p.DailyLimit, err = strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("plan %s: parse daily_api_limit %q: %w", id, raw, err)
			}
		}
		if raw, ok := fields["monthly_api_limit"]; ok {
			p.MonthlyLimit, err = strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("plan %s: parse monthly_api_limit %q: %w", id, raw, err)
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}
