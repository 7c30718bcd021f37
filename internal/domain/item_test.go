package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notifyhub/restock-monitor/internal/domain"
)

func TestRegisterItemRequest_Validate(t *testing.T) {
	neg := decimal.NewFromInt(-5)
	ok := domain.RegisterItemRequest{
		UserID:          "u1",
		Retailer:        "Game Stop",
		SourceProductID: "20012345",
		URL:             "https://www.gamestop.com/products/20012345.html",
	}

	r, interval, err := ok.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r != domain.RetailerGameStop || interval != domain.DefaultCheckInterval {
		t.Fatalf("got %s / %s", r, interval)
	}

	tests := []struct {
		name   string
		mutate func(*domain.RegisterItemRequest)
		want   error
	}{
		{"unknown retailer", func(r *domain.RegisterItemRequest) { r.Retailer = "ebay" }, domain.ErrInvalidRetailer},
		{"blank product id", func(r *domain.RegisterItemRequest) { r.SourceProductID = "  " }, domain.ErrMissingProductID},
		{"relative url", func(r *domain.RegisterItemRequest) { r.URL = "/products/1" }, domain.ErrInvalidURL},
		{"ftp url", func(r *domain.RegisterItemRequest) { r.URL = "ftp://gamestop.com/1" }, domain.ErrInvalidURL},
		{"negative target", func(r *domain.RegisterItemRequest) { r.TargetPrice = &neg }, domain.ErrInvalidPrice},
		{"short interval", func(r *domain.RegisterItemRequest) { r.CheckInterval = "30s" }, domain.ErrInvalidInterval},
		{"bad interval", func(r *domain.RegisterItemRequest) { r.CheckInterval = "hourly" }, domain.ErrInvalidInterval},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := ok
			tc.mutate(&req)
			if _, _, err := req.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	custom := ok
	custom.CheckInterval = "2m"
	if _, interval, err := custom.Validate(); err != nil || interval != 2*time.Minute {
		t.Fatalf("expected 2m interval, got %s (%v)", interval, err)
	}
}

func TestProductKey(t *testing.T) {
	if got := domain.ProductKey(domain.RetailerTarget, "A-123"); got != "target:A-123" {
		t.Fatalf("got %q", got)
	}
}
