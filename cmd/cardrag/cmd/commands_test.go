package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/cardrag/internal/config"
	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
	"github.com/Aman-CERP/cardrag/internal/index"
	"github.com/Aman-CERP/cardrag/internal/pipeline"
	"github.com/Aman-CERP/cardrag/internal/resolve"
)

func TestCardsCmd_ListsCardsByCategory(t *testing.T) {
	// Given: one card in each category
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	env.writeCard(t, env.check, "Check-Y")

	// When: listing all cards as JSON
	out, err := env.execute(t, "cards", "--json")
	require.NoError(t, err)

	// Then: both cards are listed in category order
	var entries []resolve.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "Card-X", entries[0].Name)
	assert.Equal(t, "credit", entries[0].Category)
	assert.Equal(t, "Check-Y", entries[1].Name)

	// And: the category filter keeps only check cards
	out, err = env.execute(t, "cards", "--category", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Check-Y")
	assert.NotContains(t, out, "Card-X")
}

func TestIndexCmd_BuildsAndSkips(t *testing.T) {
	// Given: a credit card and an empty check directory
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")

	// When: indexing
	out, err := env.execute(t, "index")
	require.NoError(t, err)

	// Then: credit is built and check has nothing to index
	assert.Contains(t, out, "fragments from 1 cards")
	assert.Contains(t, out, "check: no card files found")

	// When: indexing again without --force
	out, err = env.execute(t, "index", "--category", "credit")
	require.NoError(t, err)

	// Then: credit is skipped
	assert.Contains(t, out, "credit: already indexed")
}

func TestIndexCmd_UnknownCategory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "index", "--category", "debit")
	require.Error(t, err)
	assert.Equal(t, carderrors.ErrCodeInvalidInput, carderrors.GetCode(err))
}

func TestIndexesCmd_ListsPersistedPartitions(t *testing.T) {
	// Given: an empty index directory
	env := newTestEnv(t)
	out, err := env.execute(t, "indexes")
	require.NoError(t, err)
	assert.Contains(t, out, "No persisted indexes")

	// When: credit is indexed
	env.writeCard(t, env.credit, "Card-X")
	_, err = env.execute(t, "index", "--category", "credit", "--json")
	require.NoError(t, err)

	// Then: it is listed with its metadata
	out, err = env.execute(t, "indexes", "--json")
	require.NoError(t, err)
	var infos []index.PartitionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "credit", infos[0].Meta.Category)
	assert.Equal(t, []string{"Card-X"}, infos[0].Meta.Cards)
	assert.Positive(t, infos[0].SizeBytes)
}

func TestIndexCmd_Dump(t *testing.T) {
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	_, err := env.execute(t, "index", "--category", "credit")
	require.NoError(t, err)

	out, err := env.execute(t, "index", "--dump")
	require.NoError(t, err)
	assert.Contains(t, out, "=== CREDIT card fragments ===")
	assert.Contains(t, out, "annual fee domestic 10,000 won")
	assert.Contains(t, out, "check is not indexed")
}

func TestAskCmd_AnswersFromCard(t *testing.T) {
	// Given: an offline engine and one card
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	useOfflineEngine(t, &stubGenerator{answer: "연회비는 10,000원입니다."})

	// When: asking as JSON
	out, err := env.execute(t, "ask", "card x", "What", "is", "the", "annual", "fee?", "--json")
	require.NoError(t, err)

	// Then: the result names the resolved card and its answer
	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, pipeline.StatusFound, res.Status)
	assert.Equal(t, "Card-X", res.EntityName)
	assert.Equal(t, "연회비는 10,000원입니다.", res.Answer)
	assert.NotEmpty(t, res.Sources)
}

func TestAskCmd_EasyRewriteShowsOriginal(t *testing.T) {
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	useOfflineEngine(t, &stubGenerator{
		answer:  "연회비는 10,000원입니다.",
		rewrite: "1년에 한 번 10,000원을 내요.",
	})

	out, err := env.execute(t, "ask", "Card-X", "연회비?", "--easy")
	require.NoError(t, err)
	assert.Contains(t, out, "Card-X (credit)")
	assert.Contains(t, out, "1년에 한 번 10,000원을 내요.")
	assert.Contains(t, out, "Original answer:")
}

func TestAskCmd_UnknownCardSuggests(t *testing.T) {
	// Given: a single known card
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	useOfflineEngine(t, &stubGenerator{answer: "unused"})

	// When: asking about a card that does not exist
	out, err := env.execute(t, "ask", "ZZZ-Nonexistent", "fee?")

	// Then: suggestions are printed and the error is entity-not-found
	require.Error(t, err)
	assert.Equal(t, carderrors.ErrCodeEntityNotFound, carderrors.GetCode(err))
	assert.Contains(t, out, "No matching card found")
	assert.Contains(t, out, "Card-X")
}

func TestSearchCmd_ScopedSearch(t *testing.T) {
	env := newTestEnv(t)
	env.writeCard(t, env.credit, "Card-X")
	env.writeCard(t, env.check, "Check-Y")
	useOfflineEngine(t, &stubGenerator{})

	out, err := env.execute(t, "search", "subway", "discount", "--scope", "check", "--json")
	require.NoError(t, err)

	var res pipeline.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"check"}, res.Categories)
	require.NotEmpty(t, res.Candidates)
	for _, c := range res.Candidates {
		assert.Equal(t, "Check-Y", c.Fragment.EntityName)
	}
}

func TestSearchCmd_UnknownScope(t *testing.T) {
	env := newTestEnv(t)
	useOfflineEngine(t, &stubGenerator{})

	_, err := env.execute(t, "search", "fee", "--scope", "debit")
	require.Error(t, err)
	assert.Equal(t, carderrors.ErrCodeInvalidInput, carderrors.GetCode(err))
}

func TestInitCmd_WritesTemplateOnce(t *testing.T) {
	// Given: an empty project directory
	env := newTestEnv(t)
	dir := env.dir + "/project"

	// When: running init
	out, err := env.execute(t, "init", dir)
	require.NoError(t, err)

	// Then: the config is written and loads cleanly
	assert.Contains(t, out, "Wrote")
	cfg, err := config.LoadFile(dir + "/.cardrag.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Data.Categories, 2)

	// And: a second run refuses to overwrite without --force
	_, err = env.execute(t, "init", dir)
	require.Error(t, err)
	_, err = env.execute(t, "init", dir, "--force")
	assert.NoError(t, err)
}
