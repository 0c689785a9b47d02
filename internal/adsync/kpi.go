package adsync

import "math"

// Round2 rounds to two decimal places, halves away from zero
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// SafeDiv returns num/den, or 0 when den is not positive
func SafeDiv(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

// CTR is clicks per hundred impressions
func CTR(clicks, impressions float64) float64 {
	return Round2(SafeDiv(clicks, impressions) * 100)
}

// CPC is cost per click
func CPC(cost, clicks float64) float64 {
	return Round2(SafeDiv(cost, clicks))
}

// CPM is cost per thousand impressions
func CPM(cost, impressions float64) float64 {
	return Round2(SafeDiv(cost, impressions) * 1000)
}

// CPA is cost per conversion
func CPA(cost, conversions float64) float64 {
	return Round2(SafeDiv(cost, conversions))
}

// ROAS is conversion value per unit of spend
func ROAS(value, cost float64) float64 {
	return Round2(SafeDiv(value, cost))
}
