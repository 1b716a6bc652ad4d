package search_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbrain-team/vid/internal/domain/media"
	"github.com/nbrain-team/vid/internal/domain/search"
	"github.com/nbrain-team/vid/internal/mock"
	"github.com/nbrain-team/vid/internal/utils/platformerrors"
	"github.com/nbrain-team/vid/utils/assetid"
)

type searchFixture struct {
	service  *search.Service
	repo     *mock.Repository
	index    *mock.VectorIndex
	embedder *mock.Embedder
}

func newSearchFixture() *searchFixture {
	f := &searchFixture{
		repo:     mock.NewRepository(),
		index:    mock.NewVectorIndex(),
		embedder: mock.NewEmbedder(4),
	}
	f.service = search.NewService(f.repo, f.index, f.embedder, zerolog.Nop())
	return f
}

// seed commits one processed asset with an indexed vector and returns it.
func (f *searchFixture) seed(t *testing.T, ownerID, caption string, tags []string, createdAt time.Time) *media.MediaAsset {
	t.Helper()
	ctx := context.Background()
	id := assetid.New()
	asset := &media.MediaAsset{
		ID:               id,
		OriginalFilename: "photo.jpg",
		FileType:         media.FileTypeImage,
		MimeType:         "image/jpeg",
		StoragePath:      "users/" + ownerID + "/" + id + ".jpg",
		OwnerID:          ownerID,
		LicenseType:      "standard",
		CreatedAt:        createdAt,
	}
	require.NoError(t, f.repo.Create(ctx, asset))

	embeddingID, err := f.index.Upsert(ctx, "", make([]float32, 4),
		media.VectorPayload{AssetID: id, FileType: "image", Caption: caption, Tags: tags})
	require.NoError(t, err)

	require.NoError(t, f.repo.CommitDerived(ctx, id, media.DerivedFields{
		Caption:     caption,
		Tags:        tags,
		EmbeddingID: embeddingID,
		ProcessedAt: time.Now().UTC(),
	}))
	committed, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	return committed
}

func TestKeywordIsCaseInsensitive(t *testing.T) {
	f := newSearchFixture()
	f.seed(t, "owner-1", "Sunset over hills", []string{"sunset"}, time.Now())

	results, err := f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Sunset over hills", *results[0].Caption)
}

func TestKeywordMatchesTitle(t *testing.T) {
	f := newSearchFixture()
	asset := f.seed(t, "owner-1", "a photo", nil, time.Now())
	title := "Sunset over hills"
	_, err := f.repo.UpdateBusiness(context.Background(), asset.ID, media.AssetUpdate{Title: &title})
	require.NoError(t, err)

	results, err := f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, asset.ID, results[0].ID)

	results, err = f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "Mountain"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordMatchesDescription(t *testing.T) {
	f := newSearchFixture()
	asset := f.seed(t, "owner-1", "a photo", nil, time.Now())
	desc := "golden sunset at the pier"
	_, err := f.repo.UpdateBusiness(context.Background(), asset.ID, media.AssetUpdate{Description: &desc})
	require.NoError(t, err)

	results, err := f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1, "description-only matches must surface")
	assert.Equal(t, asset.ID, results[0].ID)
}

func TestKeywordFindsPendingAssets(t *testing.T) {
	f := newSearchFixture()
	id := assetid.New()
	require.NoError(t, f.repo.Create(context.Background(), &media.MediaAsset{
		ID:               id,
		OriginalFilename: "sunset-beach.jpg",
		FileType:         media.FileTypeImage,
		MimeType:         "image/jpeg",
		StoragePath:      "users/owner-1/" + id + ".jpg",
		OwnerID:          "owner-1",
		LicenseType:      "standard",
		CreatedAt:        time.Now(),
	}))

	results, err := f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "sunset"})
	require.NoError(t, err)
	require.Len(t, results, 1, "uploads awaiting processing stay findable by filename")
	assert.Nil(t, results[0].ProcessedAt)
}

func TestKeywordRejectsEmptyQuery(t *testing.T) {
	f := newSearchFixture()

	_, err := f.service.Keyword(context.Background(), "owner-1", media.KeywordQuery{Query: "   "})
	require.Error(t, err)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeValidation))
}

func TestSemanticPreservesIndexOrder(t *testing.T) {
	f := newSearchFixture()
	now := time.Now()
	a := f.seed(t, "owner-1", "a red car", []string{"car"}, now)
	b := f.seed(t, "owner-1", "a blue boat", []string{"boat"}, now)
	f.index.SetScore(*a.EmbeddingID, 0.5)
	f.index.SetScore(*b.EmbeddingID, 0.9)

	hits, err := f.service.Semantic(context.Background(), "owner-1", search.SemanticQuery{Query: "vehicle"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, b.ID, hits[0].Asset.ID, "index order wins, not creation order")
	assert.Equal(t, a.ID, hits[1].Asset.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSemanticEnforcesOwnerIsolation(t *testing.T) {
	f := newSearchFixture()
	now := time.Now()
	mine := f.seed(t, "owner-1", "my photo", nil, now)
	f.seed(t, "owner-2", "someone else's photo", nil, now)

	hits, err := f.service.Semantic(context.Background(), "owner-1", search.SemanticQuery{Query: "photo"})
	require.NoError(t, err)
	require.Len(t, hits, 1, "foreign assets must never surface")
	assert.Equal(t, mine.ID, hits[0].Asset.ID)
}

func TestSemanticDropsHitsWithoutRows(t *testing.T) {
	f := newSearchFixture()
	now := time.Now()
	kept := f.seed(t, "owner-1", "kept", nil, now)
	orphan := f.seed(t, "owner-1", "orphan", nil, now)
	require.NoError(t, f.repo.Delete(context.Background(), orphan.ID))

	hits, err := f.service.Semantic(context.Background(), "owner-1", search.SemanticQuery{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, hits, 1, "vectors without rows are dropped silently")
	assert.Equal(t, kept.ID, hits[0].Asset.ID)
}

func TestSemanticRejectsEmptyQuery(t *testing.T) {
	f := newSearchFixture()

	_, err := f.service.Semantic(context.Background(), "owner-1", search.SemanticQuery{Query: ""})
	require.Error(t, err)
	assert.True(t, platformerrors.IsType(err, platformerrors.ErrorTypeValidation))
}

func TestTopTagsCountsAndTieBreak(t *testing.T) {
	f := newSearchFixture()
	base := time.Now().Add(-time.Hour)
	f.seed(t, "owner-1", "one", []string{"a", "b"}, base)
	f.seed(t, "owner-1", "two", []string{"a"}, base.Add(time.Minute))
	f.seed(t, "owner-1", "three", []string{"b", "c"}, base.Add(2*time.Minute))

	tags, err := f.service.TopTags(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, tags, 3)

	// a and b both count 2; a was seen first and wins the tie.
	assert.Equal(t, search.TagCount{Tag: "a", Count: 2}, tags[0])
	assert.Equal(t, search.TagCount{Tag: "b", Count: 2}, tags[1])
	assert.Equal(t, search.TagCount{Tag: "c", Count: 1}, tags[2])
}

func TestTopTagsRespectsLimit(t *testing.T) {
	f := newSearchFixture()
	base := time.Now().Add(-time.Hour)
	f.seed(t, "owner-1", "one", []string{"a", "b", "c", "d"}, base)

	tags, err := f.service.TopTags(context.Background(), "owner-1", 2)
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestTopTagsIgnoresOtherOwners(t *testing.T) {
	f := newSearchFixture()
	now := time.Now()
	f.seed(t, "owner-1", "mine", []string{"a"}, now)
	f.seed(t, "owner-2", "theirs", []string{"z"}, now)

	tags, err := f.service.TopTags(context.Background(), "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "a", tags[0].Tag)
}
