// Package indexes creates the MongoDB indexes the stores rely on. EnsureAll
// runs at startup; every ensure step is idempotent and errors are aggregated
// so a single bad index is visible without hiding the rest.
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// EnsureAll creates all required indexes. Called from the EnsureSchema hook.
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	var problems []string

	if err := ensureUsers(ctx, db, logger); err != nil {
		problems = append(problems, "users: "+err.Error())
	}
	if err := ensureOrganizations(ctx, db, logger); err != nil {
		problems = append(problems, "organizations: "+err.Error())
	}
	if err := ensureMemberships(ctx, db, logger); err != nil {
		problems = append(problems, "memberships: "+err.Error())
	}
	if err := ensureDeals(ctx, db, logger); err != nil {
		problems = append(problems, "deals: "+err.Error())
	}
	if err := ensureAuthTokens(ctx, db, logger); err != nil {
		problems = append(problems, "auth_tokens: "+err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("index setup failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func ensureUsers(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	return ensureIndexSet(ctx, db.Collection("users"), logger, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_ci", Value: 1}},
			Options: options.Index().SetName("uniq_email_ci").SetUnique(true),
		},
	})
}

func ensureOrganizations(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	return ensureIndexSet(ctx, db.Collection("organizations"), logger, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name_ci", Value: 1}},
			Options: options.Index().SetName("org_name_ci"),
		},
	})
}

func ensureMemberships(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	// The unique user_id index is what makes organization provisioning
	// idempotent: concurrent EnsureForUser calls collide here and the loser
	// re-reads the winner's membership.
	return ensureIndexSet(ctx, db.Collection("memberships"), logger, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("uniq_user").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "organization_id", Value: 1}},
			Options: options.Index().SetName("by_org"),
		},
	})
}

func ensureDeals(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	return ensureIndexSet(ctx, db.Collection("deals"), logger, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "organization_id", Value: 1}, {Key: "stage", Value: 1}},
			Options: options.Index().SetName("by_org_stage"),
		},
		{
			Keys:    bson.D{{Key: "organization_id", Value: 1}, {Key: "title_ci", Value: 1}},
			Options: options.Index().SetName("by_org_title"),
		},
	})
}

func ensureAuthTokens(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	return ensureIndexSet(ctx, db.Collection("auth_tokens"), logger, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "access_token", Value: 1}},
			Options: options.Index().SetName("uniq_access_token").SetUnique(true),
		},
		{
			// Mongo reaps expired one-time tokens on its own.
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("token_expiry").SetExpireAfterSeconds(0),
		},
	})
}

func ensureIndexSet(ctx context.Context, coll *mongo.Collection, logger *zap.Logger, idxModels []mongo.IndexModel) error {
	var errs []string

	for _, m := range idxModels {
		name := ""
		if m.Options != nil && m.Options.Name != nil {
			name = *m.Options.Name
		}

		start := time.Now()
		_, err := coll.Indexes().CreateOne(ctx, m)
		if err != nil {
			// Same keys under a different name or with different options:
			// drop by name and retry once.
			if isOptionsConflictErr(err) && name != "" {
				if _, dropErr := coll.Indexes().DropOne(ctx, name); dropErr == nil {
					_, err = coll.Indexes().CreateOne(ctx, m)
				}
			}
		}
		if err != nil {
			logger.Warn("create index failed",
				zap.String("collection", coll.Name()),
				zap.String("name", name),
				zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), name, err))
			continue
		}

		logger.Info("ensured index",
			zap.String("collection", coll.Name()),
			zap.String("name", name),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Mongo/DocDB returns IndexOptionsConflict when an index with the same keys
// already exists under a different name (or options differ).
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict") ||
		strings.Contains(err.Error(), "IndexKeySpecsConflict")
}
