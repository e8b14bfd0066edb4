package metadata

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// firestoreMaxIn is the Firestore limit on values in an "in" filter.
const firestoreMaxIn = 30

// FirestoreOptions configures the Firestore client.
type FirestoreOptions struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreSource implements ReferenceSource over Firestore collections.
// Descriptor tables are collection ids; columns are field paths.
type FirestoreSource struct {
	client *firestore.Client
}

// NewFirestoreSource creates a Firestore client for the given project.
func NewFirestoreSource(ctx context.Context, opts FirestoreOptions) (*FirestoreSource, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreSource{client: client}, nil
}

// Ping lists one collection id.
func (s *FirestoreSource) Ping(ctx context.Context) error {
	_, err := s.client.Collections(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

// Close closes the Firestore client.
func (s *FirestoreSource) Close() error {
	return s.client.Close()
}

// Values reads d.Column from every document of d.Table.
func (s *FirestoreSource) Values(ctx context.Context, d Descriptor, fn func(Value) error) error {
	if err := d.Validate(); err != nil {
		return err
	}
	q := s.client.Collection(d.Table).Select(d.Column)
	return s.scan(ctx, q, d.Column, fn)
}

// OwnedValues reads d.Column from documents whose owner field is one of
// owners, in groups of at most 30 owners per query.
func (s *FirestoreSource) OwnedValues(ctx context.Context, d Descriptor, owners []string, fn func(Value) error) error {
	if d.OwnerColumn == "" || len(owners) == 0 {
		return nil
	}
	if err := d.Validate(); err != nil {
		return err
	}
	for _, chunk := range chunkStrings(owners, firestoreMaxIn) {
		q := s.client.Collection(d.Table).Where(d.OwnerColumn, "in", chunk).Select(d.Column)
		if err := s.scan(ctx, q, d.Column, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *FirestoreSource) scan(ctx context.Context, q firestore.Query, column string, fn func(Value) error) error {
	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return fmt.Errorf("reading firestore documents: %w", err)
		}
		v, err := doc.DataAt(column)
		if err != nil {
			// Field absent on this document.
			continue
		}
		if err := emitValue(v, fn); err != nil {
			return err
		}
	}
}

// Ensure FirestoreSource implements ReferenceSource at compile time.
var _ ReferenceSource = (*FirestoreSource)(nil)
