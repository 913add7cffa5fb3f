package payment

import "math"

// FeeSplit is the decomposition of a base fee into platform revenue, provider
// payout, tax, and the amount actually charged to the payer.
type FeeSplit struct {
	PlatformFee int64
	ProviderFee int64
	TaxAmount   int64
	FinalAmount int64
}

// ComputeFeeSplit derives the split from a base fee in minor currency units.
// Rounding is half-up on the minor unit; reconciliation depends on this being
// stable, so the formula must not change shape.
func ComputeFeeSplit(baseFee int64, platformRate, taxRate float64) FeeSplit {
	platformFee := roundHalfUp(float64(baseFee) * platformRate)
	taxAmount := roundHalfUp(float64(baseFee) * taxRate)

	return FeeSplit{
		PlatformFee: platformFee,
		ProviderFee: baseFee - platformFee,
		TaxAmount:   taxAmount,
		FinalAmount: baseFee + taxAmount,
	}
}

func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
