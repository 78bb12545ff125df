package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/cache"
	"konsinyasi/backend/internal/domain"
)

const (
	baseScore       = 50
	onTimeWeight    = 8
	overdueWeight   = 12
	trailingWindow  = 90 * 24 * time.Hour
	defaultCacheTTL = 30 * time.Second
)

// Assessor computes a client's reliability score from their trailing payment
// history and currently open records. Read-only: it never mutates ledger
// state, and its results are cacheable.
type Assessor struct {
	cache    cache.RiskCache
	cacheTTL time.Duration
}

func NewAssessor(cacheStore cache.RiskCache, cacheTTL time.Duration) *Assessor {
	if cacheStore == nil {
		cacheStore = cache.NoopRiskCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}

	return &Assessor{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
	}
}

// Window returns the start of the trailing history window relative to now.
func (a *Assessor) Window(now time.Time) time.Time {
	return now.Add(-trailingWindow)
}

// Assess scores one client. payments must already be limited to the trailing
// window; openRecords are the client's active fronted records.
func (a *Assessor) Assess(
	ctx context.Context,
	tenantID string,
	clientID string,
	payments []domain.Payment,
	openRecords []domain.FrontedRecord,
) domain.RiskAssessment {
	cacheKey := buildCacheKey(tenantID, clientID)
	if cached, ok, err := a.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached
	}

	now := time.Now().UTC()

	onTime := 0
	for _, p := range payments {
		if p.OnTime {
			onTime++
		}
	}

	overdueIncidents := 0
	seenOverdueRecords := make(map[string]struct{})
	for _, p := range payments {
		if p.OnTime {
			continue
		}
		if _, seen := seenOverdueRecords[p.FrontedRecordID]; seen {
			continue
		}
		seenOverdueRecords[p.FrontedRecordID] = struct{}{}
		overdueIncidents++
	}

	open := make([]domain.RecordRisk, 0, len(openRecords))
	for _, record := range openRecords {
		if record.Status != domain.RecordStatusActive {
			continue
		}
		days := 0
		if record.EffectivePaymentStatus(now) == domain.PaymentStatusOverdue {
			days = int(now.Sub(record.PaymentDueDate).Hours() / 24)
			if days < 0 {
				days = 0
			}
			if _, seen := seenOverdueRecords[record.ID]; !seen {
				seenOverdueRecords[record.ID] = struct{}{}
				overdueIncidents++
			}
		}
		outstanding := record.NetExpectedRevenue().Sub(record.PaymentReceived)
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		open = append(open, domain.RecordRisk{
			FrontedRecordID:  record.ID,
			DaysOverdue:      days,
			OutstandingValue: outstanding,
		})
	}

	score := baseScore + onTimeWeight*onTime - overdueWeight*overdueIncidents
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	assessment := domain.RiskAssessment{
		TenantID:         tenantID,
		ClientID:         clientID,
		ReliabilityScore: score,
		OnTimePayments:   onTime,
		OverdueIncidents: overdueIncidents,
		OpenRecords:      open,
		GeneratedAt:      now,
	}

	_ = a.cache.Set(ctx, cacheKey, &assessment, a.cacheTTL)
	return assessment
}

func buildCacheKey(tenantID string, clientID string) string {
	return fmt.Sprintf("risk:v1:%s:%s", tenantID, clientID)
}
