// Package firestore provides a Firestore implementation of subscription.UserStore.
// User documents live in one collection keyed by user id; the subscription system
// owns the "subscription", "credits", "settings.autoAppendReferral" and "updatedAt" fields.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/threadifier/pkg/subscription"
)

// Field paths inside a user document
const (
	fieldEmail                = "email"
	fieldUpdatedAt            = "updatedAt"
	fieldSubscription         = "subscription"
	fieldPlan                 = "plan"
	fieldStatus               = "status"
	fieldCustomerID           = "stripeCustomerId"
	fieldSubscriptionID       = "stripeSubscriptionId"
	fieldCurrentPeriodEnd     = "currentPeriodEnd"
	fieldCancelAtPeriodEnd    = "cancelAtPeriodEnd"
	fieldCredits              = "credits"
	fieldAvailable            = "available"
	fieldLifetime             = "lifetime"
	fieldCreditExpirations    = "creditExpirations"
	fieldSettings             = "settings"
	fieldAutoAppendReferral   = "autoAppendReferral"
	defaultUsersCollection    = "users"
	creditExpirationAmount    = "amount"
	creditExpirationEarnedAt  = "earnedAt"
	creditExpirationExpiresAt = "expiresAt"
	creditExpirationSource    = "source"
)

// Storage implements subscription.UserStore using Google Cloud Firestore
type Storage struct {
	client          *firestore.Client
	usersCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection holding user documents
	// Default: "users"
	UsersCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.UsersCollection == "" {
		config.UsersCollection = defaultUsersCollection
	}

	return &Storage{
		client:          client,
		usersCollection: config.UsersCollection,
	}, nil
}

// GetUser implements subscription.UserStore
func (s *Storage) GetUser(ctx context.Context, userID string) (*subscription.User, error) {
	if userID == "" {
		return nil, subscription.ErrUserNotFound
	}
	snap, err := s.client.Collection(s.usersCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subscription.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if !snap.Exists() {
		return nil, subscription.ErrUserNotFound
	}
	return userFromData(snap.Ref.ID, snap.Data()), nil
}

// FindUserByEmail implements subscription.UserStore
func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*subscription.User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.findOne(ctx, fieldEmail, email)
}

// FindUserByCustomerID implements subscription.UserStore
func (s *Storage) FindUserByCustomerID(ctx context.Context, customerID string) (*subscription.User, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, subscription.ErrUserNotFound
	}
	return s.findOne(ctx, fieldSubscription+"."+fieldCustomerID, customerID)
}

func (s *Storage) findOne(ctx context.Context, path, value string) (*subscription.User, error) {
	iter := s.client.Collection(s.usersCollection).Where(path, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, subscription.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query users by %s: %w", path, err)
	}
	return userFromData(snap.Ref.ID, snap.Data()), nil
}

// ApplyUpdate implements subscription.UserStore. The subscription fields,
// credit increments and settings are issued as one transactional update so a
// partial write cannot leave credits and entitlement out of step.
func (s *Storage) ApplyUpdate(ctx context.Context, userID string,
	update *subscription.RecordUpdate) (*subscription.ApplyResult, error) {
	if update == nil || update.Empty() {
		return nil, subscription.ErrInvalidUpdate
	}
	if userID == "" {
		return nil, subscription.ErrUserNotFound
	}

	doc := s.client.Collection(s.usersCollection).Doc(userID)
	var result *subscription.ApplyResult

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return subscription.ErrUserNotFound
			}
			return err
		}
		if !snap.Exists() {
			return subscription.ErrUserNotFound
		}

		previous := recordFromData(getMap(snap.Data(), fieldSubscription))
		granted := update.GrantFor(previous)

		result = &subscription.ApplyResult{
			Previous:       previous,
			Current:        update.Apply(previous),
			CreditsGranted: granted,
		}
		return tx.Update(doc, fieldUpdates(update, granted))
	})
	if err != nil {
		if errors.Is(err, subscription.ErrUserNotFound) {
			return nil, subscription.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to apply subscription update: %w", err)
	}
	return result, nil
}

// fieldUpdates converts a RecordUpdate into field-path writes
func fieldUpdates(update *subscription.RecordUpdate, granted int) []firestore.Update {
	sub := func(field string) string { return fieldSubscription + "." + field }
	var updates []firestore.Update

	if update.Plan != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldPlan), Value: string(*update.Plan)})
	}
	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldStatus), Value: string(*update.Status)})
	}
	if update.CustomerID != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldCustomerID), Value: *update.CustomerID})
	}
	if update.SubscriptionID != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldSubscriptionID), Value: *update.SubscriptionID})
	}
	if update.CurrentPeriodEnd != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldCurrentPeriodEnd), Value: *update.CurrentPeriodEnd})
	}
	if update.CancelAtPeriodEnd != nil {
		updates = append(updates, firestore.Update{Path: sub(fieldCancelAtPeriodEnd), Value: *update.CancelAtPeriodEnd})
	}
	if granted > 0 {
		updates = append(updates,
			firestore.Update{Path: fieldCredits + "." + fieldAvailable, Value: firestore.Increment(granted)},
			firestore.Update{Path: fieldCredits + "." + fieldLifetime, Value: firestore.Increment(granted)},
		)
	}
	if update.AutoAppendReferral != nil {
		updates = append(updates, firestore.Update{
			Path:  fieldSettings + "." + fieldAutoAppendReferral,
			Value: *update.AutoAppendReferral,
		})
	}

	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates = append(updates, firestore.Update{Path: fieldUpdatedAt, Value: updatedAt})
	return updates
}

func userFromData(id string, data map[string]interface{}) *subscription.User {
	credits := getMap(data, fieldCredits)
	settings := getMap(data, fieldSettings)

	return &subscription.User{
		ID:           id,
		Email:        getString(data, fieldEmail),
		Subscription: recordFromData(getMap(data, fieldSubscription)),
		Credits: subscription.Credits{
			Available:   getInt(credits, fieldAvailable),
			Lifetime:    getInt(credits, fieldLifetime),
			Expirations: expirationsFromData(credits[fieldCreditExpirations]),
		},
		Settings: subscription.Settings{
			AutoAppendReferral: getBool(settings, fieldAutoAppendReferral),
		},
		UpdatedAt: getTime(data, fieldUpdatedAt),
	}
}

func recordFromData(data map[string]interface{}) subscription.Record {
	return subscription.Record{
		Plan:                 subscription.Plan(getString(data, fieldPlan)),
		Status:               subscription.Status(getString(data, fieldStatus)),
		StripeCustomerID:     getString(data, fieldCustomerID),
		StripeSubscriptionID: getString(data, fieldSubscriptionID),
		CurrentPeriodEnd:     getTime(data, fieldCurrentPeriodEnd),
		CancelAtPeriodEnd:    getBool(data, fieldCancelAtPeriodEnd),
	}
}

func expirationsFromData(raw interface{}) []subscription.CreditExpiration {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]subscription.CreditExpiration, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, subscription.CreditExpiration{
			Amount:    getInt(entry, creditExpirationAmount),
			EarnedAt:  getTime(entry, creditExpirationEarnedAt),
			ExpiresAt: getTime(entry, creditExpirationExpiresAt),
			Source:    getString(entry, creditExpirationSource),
		})
	}
	return out
}

func getMap(data map[string]interface{}, key string) map[string]interface{} {
	if v, ok := data[key].(map[string]interface{}); ok {
		return v
	}
	return map[string]interface{}{}
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

// getTime accepts native timestamps and the epoch-second integers written by
// older clients.
func getTime(data map[string]interface{}, key string) time.Time {
	switch v := data[key].(type) {
	case time.Time:
		return v.UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	default:
		return time.Time{}
	}
}
