package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/femtoserve/femtoserve/internal/identity"
	"github.com/femtoserve/femtoserve/internal/logging"
	"github.com/femtoserve/femtoserve/internal/storage"
)

// Item is a loaded record. Edges to other items and to storage are
// resolved on demand and never cached on the Item.
type Item struct {
	rec *Record
	lib *Library
}

func (i *Item) ID() string        { return i.rec.ID }
func (i *Item) Name() string      { return i.rec.Name.Original }
func (i *Item) Filename() string  { return i.rec.Name.Filename }
func (i *Item) Extension() string { return i.rec.Name.Extension }
func (i *Item) Mime() string      { return i.rec.Metadata.Mime }
func (i *Item) Filetype() string  { return i.rec.Metadata.Filetype }
func (i *Item) Owner() string     { return i.rec.Owner }
func (i *Item) Deleted() bool     { return i.rec.Deleted }
func (i *Item) Views() int64      { return i.rec.Metadata.Views }

func (i *Item) Virus() VirusStatus { return i.rec.Metadata.Virus }

// Expired reports whether the expiry flag is set or the expiry time passed.
func (i *Item) Expired() bool {
	if i.rec.Metadata.Expired {
		return true
	}
	exp := i.rec.Metadata.ExpiresAt
	return exp != nil && !i.lib.now().Before(*exp)
}

// Record returns a copy of the underlying record.
func (i *Item) Record() Record { return *i.rec }

func (i *Item) StorageReference() StorageRef { return i.rec.References.Storage }
func (i *Item) ThumbReference() string       { return i.rec.References.Thumb }
func (i *Item) CanonicalReference() string   { return i.rec.References.Canonical }
func (i *Item) HasThumb() bool               { return i.rec.References.Thumb != "" }

// Blob resolves the item's own storage reference.
func (i *Item) Blob() (*Blob, error) {
	return i.lib.Blob(i.rec.References.Storage)
}

// Thumb loads the linked thumbnail item.
func (i *Item) Thumb(ctx context.Context) (*Item, error) {
	if !i.HasThumb() {
		return nil, fmt.Errorf("item %s has no thumbnail: %w", i.rec.ID, ErrNotFound)
	}
	return i.lib.Load(ctx, i.rec.References.Thumb)
}

// Canonical loads the deduplication target, if any.
func (i *Item) Canonical(ctx context.Context) (*Item, error) {
	if i.rec.References.Canonical == "" {
		return nil, fmt.Errorf("item %s has no canonical: %w", i.rec.ID, ErrNotFound)
	}
	return i.lib.Load(ctx, i.rec.References.Canonical)
}

// Reload fetches a fresh copy of the item from the repository.
func (i *Item) Reload(ctx context.Context) (*Item, error) {
	return i.lib.Load(ctx, i.rec.ID)
}

// OwnedBy reports whether caller owns the item. Anonymous callers own nothing.
func (i *Item) OwnedBy(caller *identity.Caller) bool {
	if caller == nil || caller.OwnerID == "" {
		return false
	}
	return i.rec.Owner == caller.OwnerID
}

// ItemStream opens the item's blob, optionally ranged.
func (i *Item) ItemStream(ctx context.Context, rng *storage.ByteRange) (io.ReadCloser, error) {
	blob, err := i.Blob()
	if err != nil {
		return nil, err
	}
	return blob.Read(ctx, rng)
}

// ItemStat stats the item's blob.
func (i *Item) ItemStat(ctx context.Context) (storage.ObjectInfo, error) {
	blob, err := i.Blob()
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return blob.Stat(ctx)
}

// ThumbStream opens the linked thumbnail's blob.
func (i *Item) ThumbStream(ctx context.Context) (io.ReadCloser, error) {
	thumb, err := i.Thumb(ctx)
	if err != nil {
		return nil, err
	}
	return thumb.ItemStream(ctx, nil)
}

// SetVirus records a scan result.
func (i *Item) SetVirus(ctx context.Context, status VirusStatus) error {
	i.rec.Metadata.Virus = status
	return i.lib.repo.Save(ctx, i.rec)
}

// SetCanonical points the item at a deduplication target.
func (i *Item) SetCanonical(ctx context.Context, target *Item) error {
	i.rec.References.Canonical = target.ID()
	return i.lib.repo.Save(ctx, i.rec)
}

// MarkDeleted flags the item deleted. There is no inverse.
func (i *Item) MarkDeleted(ctx context.Context) error {
	i.rec.Deleted = true
	return i.lib.repo.Save(ctx, i.rec)
}

// IncrementViews bumps the persisted view counter atomically.
func (i *Item) IncrementViews(ctx context.Context) error {
	if err := i.lib.repo.IncrementViews(ctx, i.rec.ID); err != nil {
		return err
	}
	i.rec.Metadata.Views++
	return nil
}

// SetThumb stores png as a new thumbnail item and links it to i. The
// thumbnail lives next to the parent's blob, inherits its expiry and owner,
// and is itself an ordinary item with filetype "thumb".
func (i *Item) SetThumb(ctx context.Context, png []byte) (*Item, error) {
	if i.HasThumb() {
		return nil, ErrThumbAlreadySet
	}

	folder := i.rec.References.Storage.Folder
	if folder == "" {
		folder = i.rec.Owner
	}
	ref := i.lib.NewStorageRef(i.lib.thumbBucket, folder)
	blob, err := i.lib.Blob(ref)
	if err != nil {
		return nil, err
	}
	if err := blob.Write(ctx, bytes.NewReader(png), int64(len(png))); err != nil {
		return nil, fmt.Errorf("write thumbnail: %w", err)
	}

	thumb, err := i.lib.Create(ctx, &Record{
		Name: Name{
			Original:  i.rec.Name.Filename + ".png",
			Filename:  i.rec.Name.Filename,
			Extension: "png",
		},
		Metadata: Metadata{
			Mime:      ThumbMime,
			Encoding:  "7bit",
			Filetype:  FiletypeThumb,
			ExpiresAt: i.rec.Metadata.ExpiresAt,
		},
		References: References{Storage: ref},
		Owner:      i.rec.Owner,
	})
	if err != nil {
		return nil, err
	}

	if err := i.lib.repo.LinkThumb(ctx, i.rec.ID, thumb.ID()); err != nil {
		if errors.Is(err, ErrThumbAlreadySet) {
			logging.Warn("thumbnail raced with another writer, discarding",
				zap.String("item", i.rec.ID), zap.String("thumb", thumb.ID()))
			if derr := thumb.MarkDeleted(ctx); derr != nil {
				logging.Warn("failed to delete losing thumbnail",
					zap.String("thumb", thumb.ID()), zap.Error(derr))
			}
		}
		return nil, err
	}
	i.rec.References.Thumb = thumb.ID()
	return thumb, nil
}
