package claims

import (
	"context"
	"time"
)

// EffectiveCommissionRate picks the unit rate, then the project rate, then fallback.
func EffectiveCommissionRate(unitRate *BasisPoints, projectRate *BasisPoints, fallback BasisPoints) BasisPoints {
	if unitRate != nil && *unitRate > 0 {
		return *unitRate
	}
	if projectRate != nil && *projectRate > 0 {
		return *projectRate
	}
	return fallback
}

func (service *Service) buildCommission(ctx context.Context, transactionStore Store, unit Unit, deposit Deposit, now time.Time) (Commission, error) {
	var projectRate *BasisPoints
	if (unit.CommissionRateBps == nil || *unit.CommissionRateBps <= 0) && unit.ProjectCode != "" {
		rate, err := transactionStore.ProjectCommissionRate(ctx, unit.ProjectCode)
		if err != nil {
			return Commission{}, err
		}
		projectRate = rate
	}
	rate := EffectiveCommissionRate(unit.CommissionRateBps, projectRate, service.policy.DefaultCommissionRate)
	return Commission{
		Code:        service.codeFn(codePrefixCommission),
		DepositCode: deposit.Code,
		UnitCode:    unit.Code,
		HolderID:    deposit.HolderID,
		Amount:      rate.Apply(unit.Price),
		RateBps:     rate,
		CreatedAt:   now,
	}, nil
}
