package market

import "context"

// SaleNotifier announces completed sales. Failures are logged by the caller
// and never undo the sale.
type SaleNotifier interface {
	NotifySale(ctx context.Context, r Record) error
}

// NopNotifier discards announcements.
type NopNotifier struct{}

func (NopNotifier) NotifySale(context.Context, Record) error { return nil }

// NotifierFunc adapts a function into a SaleNotifier.
type NotifierFunc func(ctx context.Context, r Record) error

func (f NotifierFunc) NotifySale(ctx context.Context, r Record) error { return f(ctx, r) }
