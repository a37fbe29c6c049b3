package dealstore

import (
	"context"
	"errors"
	"time"

	"github.com/dealdesk/dealdesk/internal/app/system/normalize"
	"github.com/dealdesk/dealdesk/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	errNoTitle  = errors.New("deal title is required")
	errNoStage  = errors.New("deal stage is required")
	ErrNotFound = errors.New("deal not found")
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("deals")}
}

// Create inserts a new deal after normalizing fields. Stage validity against
// the organization's pipeline is the handler's job; the store only enforces
// structural requirements.
func (s *Store) Create(ctx context.Context, d models.Deal) (models.Deal, error) {
	d.ID = primitive.NewObjectID()
	d.Title = normalize.Name(d.Title)
	d.TitleCI = text.Fold(d.Title)
	d.Company = normalize.Name(d.Company)
	d.ContactEmail = normalize.Email(d.ContactEmail)
	d.Currency = normalize.Currency(d.Currency)
	d.Stage = normalize.Stage(d.Stage)

	if d.Title == "" {
		return models.Deal{}, errNoTitle
	}
	if d.Stage == "" {
		return models.Deal{}, errNoStage
	}
	if d.Currency == "" {
		d.Currency = "USD"
	}

	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now

	if _, err := s.c.InsertOne(ctx, d); err != nil {
		return models.Deal{}, err
	}
	return d, nil
}

// GetByID loads a deal scoped to an organization. Cross-tenant IDs read as
// not found.
func (s *Store) GetByID(ctx context.Context, orgID, id primitive.ObjectID) (*models.Deal, error) {
	var d models.Deal
	err := s.c.FindOne(ctx, bson.M{"_id": id, "organization_id": orgID}).Decode(&d)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListByOrg returns the organization's deals, optionally filtered by stage,
// newest first.
func (s *Store) ListByOrg(ctx context.Context, orgID primitive.ObjectID, stage string) ([]models.Deal, error) {
	filter := bson.M{"organization_id": orgID}
	if stage != "" {
		filter["stage"] = normalize.Stage(stage)
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Deal
	for cur.Next(ctx) {
		var d models.Deal
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

// Update holds the fields a deal PATCH may change. Nil pointers leave the
// stored value untouched.
type Update struct {
	Title        *string
	Company      *string
	ContactEmail *string
	ValueCents   *int64
	Currency     *string
	Notes        *string
}

// Update applies a partial update to an organization's deal.
func (s *Store) Update(ctx context.Context, orgID, id primitive.ObjectID, upd Update) error {
	set := bson.M{"updated_at": time.Now()}
	if upd.Title != nil {
		title := normalize.Name(*upd.Title)
		if title == "" {
			return errNoTitle
		}
		set["title"] = title
		set["title_ci"] = text.Fold(title)
	}
	if upd.Company != nil {
		set["company"] = normalize.Name(*upd.Company)
	}
	if upd.ContactEmail != nil {
		set["contact_email"] = normalize.Email(*upd.ContactEmail)
	}
	if upd.ValueCents != nil {
		set["value_cents"] = *upd.ValueCents
	}
	if upd.Currency != nil {
		set["currency"] = normalize.Currency(*upd.Currency)
	}
	if upd.Notes != nil {
		set["notes"] = *upd.Notes
	}

	res, err := s.c.UpdateOne(ctx, bson.M{"_id": id, "organization_id": orgID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveStage moves a deal to a new pipeline stage.
func (s *Store) MoveStage(ctx context.Context, orgID, id primitive.ObjectID, stage string) error {
	stage = normalize.Stage(stage)
	if stage == "" {
		return errNoStage
	}
	res, err := s.c.UpdateOne(ctx,
		bson.M{"_id": id, "organization_id": orgID},
		bson.M{"$set": bson.M{"stage": stage, "updated_at": time.Now()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an organization's deal. Returns the number deleted (0 or 1).
func (s *Store) Delete(ctx context.Context, orgID, id primitive.ObjectID) (int64, error) {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id, "organization_id": orgID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// InsertMany bulk-inserts deals for CSV import. All rows share the caller's
// organization and creator.
func (s *Store) InsertMany(ctx context.Context, deals []models.Deal) (int, error) {
	if len(deals) == 0 {
		return 0, nil
	}

	now := time.Now()
	docs := make([]interface{}, 0, len(deals))
	for _, d := range deals {
		d.ID = primitive.NewObjectID()
		d.Title = normalize.Name(d.Title)
		d.TitleCI = text.Fold(d.Title)
		d.ContactEmail = normalize.Email(d.ContactEmail)
		d.Currency = normalize.Currency(d.Currency)
		d.Stage = normalize.Stage(d.Stage)
		d.CreatedAt = now
		d.UpdatedAt = now
		docs = append(docs, d)
	}

	res, err := s.c.InsertMany(ctx, docs)
	if err != nil {
		if res != nil {
			return len(res.InsertedIDs), err
		}
		return 0, err
	}
	return len(res.InsertedIDs), nil
}
