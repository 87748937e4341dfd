package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"mail-archive-search/internal/logger"
	"mail-archive-search/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo stores mails, chunks and events in three collections.
type Mongo struct {
	client       *mongo.Client
	mails        *mongo.Collection
	chunks       *mongo.Collection
	events       *mongo.Collection
	transactions bool
	now          func() time.Time
	log          *slog.Logger
}

// NewMongo wraps an open client. When transactions is false (standalone
// servers) a failed batch is undone with a compensating delete.
func NewMongo(client *mongo.Client, db *mongo.Database, transactions bool, log *slog.Logger) *Mongo {
	return &Mongo{
		client:       client,
		mails:        db.Collection("mails"),
		chunks:       db.Collection("chunks"),
		events:       db.Collection("events"),
		transactions: transactions,
		now:          time.Now,
		log:          logger.OrDefault(log),
	}
}

func (m *Mongo) InsertMails(ctx context.Context, mails []*models.Mail) error {
	if len(mails) == 0 {
		return nil
	}
	for _, mail := range mails {
		if mail.ID == "" {
			mail.ID = primitive.NewObjectID().Hex()
		}
	}
	prepareMails(mails, m.now().UTC())

	base := m.now().UnixNano()
	docs := make([]interface{}, len(mails))
	ids := make([]string, len(mails))
	for i, mail := range mails {
		docs[i] = mongoMail{
			Mail:             *mail,
			Seq:              base + int64(i),
			SearchText:       searchText(mail),
			AttachmentSearch: attachmentSearchText(mail.Attachments),
		}
		ids[i] = mail.ID
	}

	if m.transactions {
		session, err := m.client.StartSession()
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return m.mails.InsertMany(sc, docs)
		})
		if err != nil {
			return fmt.Errorf("failed to insert mail batch: %w", err)
		}
		return nil
	}

	if _, err := m.mails.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		if _, delErr := m.mails.DeleteMany(context.Background(), bson.M{"_id": bson.M{"$in": ids}}); delErr != nil {
			m.log.Error("Failed to roll back partial mail batch", "error", delErr, "batch_size", len(ids))
		}
		return fmt.Errorf("failed to insert mail batch: %w", err)
	}
	return nil
}

// mongoMail adds the insertion sequence and the folded text used by
// candidate lookups.
type mongoMail struct {
	models.Mail      `bson:",inline"`
	Seq              int64  `bson:"seq"`
	SearchText       string `bson:"search_text"`
	AttachmentSearch string `bson:"attachment_search"`
}

var insertionOrder = bson.D{{Key: "seq", Value: 1}}

func (m *Mongo) GetMail(ctx context.Context, id string) (*models.Mail, error) {
	var mail models.Mail
	err := m.mails.FindOne(ctx, bson.M{"_id": id}).Decode(&mail)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mail %s: %w", id, err)
	}
	return &mail, nil
}

func (m *Mongo) ListMails(ctx context.Context, filter models.MailFilter) ([]*models.Mail, error) {
	query := bson.M{}
	if filter.ImportID != "" {
		query["import_id"] = filter.ImportID
	}
	if filter.EnrichmentStatus != "" {
		query["enrichment_status"] = filter.EnrichmentStatus
	}
	if len(filter.IDs) > 0 {
		query["_id"] = bson.M{"$in": filter.IDs}
	}

	opts := options.Find().SetSort(insertionOrder)
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return m.findMails(ctx, query, opts)
}

func (m *Mongo) findMails(ctx context.Context, query bson.M, opts *options.FindOptions) ([]*models.Mail, error) {
	cursor, err := m.mails.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query mails: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*models.Mail
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode mails: %w", err)
	}
	return out, nil
}

func (m *Mongo) CountMails(ctx context.Context) (int64, error) {
	n, err := m.mails.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count mails: %w", err)
	}
	return n, nil
}

func (m *Mongo) FindCandidates(ctx context.Context, tokens []string) ([]*models.Mail, error) {
	var or bson.A
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		re := bson.M{"$regex": regexp.QuoteMeta(strings.ToLower(tok))}
		for _, field := range []string{"search_text", "attachment_search"} {
			or = append(or, bson.M{field: re})
		}
	}
	if len(or) == 0 {
		return nil, nil
	}
	return m.findMails(ctx, bson.M{"$or": or}, options.Find().SetSort(insertionOrder))
}

func (m *Mongo) UpdateAttachments(ctx context.Context, id string, refs []models.AttachmentRef) error {
	if refs == nil {
		refs = []models.AttachmentRef{}
	}
	return m.updateMail(ctx, id, bson.M{"attachments": refs, "attachment_search": attachmentSearchText(refs)})
}

func (m *Mongo) UpdateEnrichment(ctx context.Context, id, classification, confidence, status string) error {
	return m.updateMail(ctx, id, bson.M{
		"classification":    classification,
		"confidence":        confidence,
		"enrichment_status": status,
	})
}

func (m *Mongo) updateMail(ctx context.Context, id string, set bson.M) error {
	res, err := m.mails.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update mail %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := m.now().UTC()
	docs := make([]interface{}, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			c.ID = newID()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		docs[i] = c
	}
	if _, err := m.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (m *Mongo) ListChunks(ctx context.Context) ([]models.Chunk, error) {
	cursor, err := m.chunks.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "mail_id", Value: 1}, {Key: "index", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Chunk
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return out, nil
}

func (m *Mongo) DeleteChunksForMail(ctx context.Context, mailID string) error {
	if _, err := m.chunks.DeleteMany(ctx, bson.M{"mail_id": mailID}); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (m *Mongo) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := m.now().UTC()
	docs := make([]interface{}, len(events))
	for i, e := range events {
		if e.ID == "" {
			e.ID = newID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		docs[i] = e
	}
	if _, err := m.events.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

func (m *Mongo) ListEvents(ctx context.Context, mailID string) ([]models.Event, error) {
	query := bson.M{}
	if mailID != "" {
		query["mail_id"] = mailID
	}
	cursor, err := m.events.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "time", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []models.Event
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return out, nil
}

func (m *Mongo) Reset(ctx context.Context) error {
	for _, coll := range []*mongo.Collection{m.chunks, m.events, m.mails} {
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return fmt.Errorf("failed to clear %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
