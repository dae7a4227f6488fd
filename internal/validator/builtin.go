package validator

import (
	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/resolver"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

const (
	tableSubscriber   = "Notification_Subscriber"
	tableSubscription = "Notification_Subscription"

	columnSubscriberType = "type"
	columnSubscriptions  = "notification_subscriptions"
	columnResource       = "resource"

	subscriberTypeWS = "ws"
)

// subscriberValidator forbids creating or deleting websocket subscribers
// over REST. Their lifecycle is driven by the socket itself.
type subscriberValidator struct{}

func (subscriberValidator) Table() string { return tableSubscriber }

func (subscriberValidator) ValidateModification(ctx *Context) error {
	if !ctx.IsNew {
		return nil
	}
	if ctx.Row.Get(columnSubscriberType) == subscriberTypeWS {
		return NewError(apperrors.CodeMethodProhibited,
			"Websocket subscribers may not be created through REST")
	}
	return nil
}

func (subscriberValidator) ValidateDeletion(ctx *Context) error {
	if ctx.Row.Get(columnSubscriberType) == subscriberTypeWS {
		return NewError(apperrors.CodeMethodProhibited,
			"Websocket subscribers may not be deleted through REST")
	}
	return nil
}

// subscriptionValidator checks new subscriptions: the resource URI must
// resolve to an existing row or collection, and a subscriber may hold at
// most one subscription per resource URI.
type subscriptionValidator struct{}

func (subscriptionValidator) Table() string { return tableSubscription }

func (subscriptionValidator) ValidateModification(ctx *Context) error {
	if !ctx.IsNew {
		return nil
	}

	resource, _ := ctx.Row.Get(columnResource).(string)
	if resource == "" {
		return NewError(apperrors.CodeVerificationFailed,
			"Subscription resource is required")
	}
	if _, err := resolver.Parse(ctx.Schema, ctx.Txn, resource); err != nil {
		return NewError(apperrors.CodeVerificationFailed,
			"Invalid subscription resource: %s", resource)
	}

	if ctx.ParentRow == nil {
		return nil
	}
	siblings, _ := ctx.ParentRow.Get(columnSubscriptions).(map[string]uuid.UUID)
	for _, id := range siblings {
		if id == ctx.Row.UUID {
			continue
		}
		sibling := ctx.Txn.Row(tableSubscription, id)
		if sibling == nil {
			continue
		}
		if sibling.Get(columnResource) == resource {
			return NewError(apperrors.CodeDuplicateResource,
				"Subscription to resource already exists: %s", resource)
		}
	}
	return nil
}

func (subscriptionValidator) ValidateDeletion(*Context) error {
	return nil
}
