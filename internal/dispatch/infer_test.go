package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sortd/internal/action"
	"sortd/internal/memory"
	"sortd/internal/nameparse"
	"sortd/internal/perception"
)

func newInferenceFixture(t *testing.T) (*fixture, *Inference) {
	f := newFixture(t)
	return f, NewInference(f.store, f.root, f.disp.Records())
}

func indexLooseFiles(t *testing.T, f *fixture, names ...string) {
	t.Helper()
	entries := make([]memory.IndexEntry, 0, len(names))
	for _, name := range names {
		f.write(t, name, "x")
		entries = append(entries, memory.IndexEntry{
			Path:      filepath.Join(f.root, name),
			Name:      name,
			Extension: filepath.Ext(name),
			Meta:      nameparse.Parse(name),
		})
	}
	require.NoError(t, f.store.ReplaceIndex(f.root, entries))
}

func TestInferSortedCSVsIntoData(t *testing.T) {
	f, inf := newInferenceFixture(t)
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "data"), 0755))
	require.NoError(t, f.store.AddCategory("data", filepath.Join(f.root, "data")))
	indexLooseFiles(t, f, "q1.csv", "q2.csv", "q3.csv", "readme.txt")

	history := []perception.Turn{
		{Role: perception.RoleUser, Content: "please sort my csv files"},
	}
	batch, clar, inferred := inf.Infer("I've sorted your CSV files into data", history)

	require.True(t, inferred)
	assert.Empty(t, clar)
	require.Len(t, batch, 3, "three csv files, the txt stays put")

	for _, a := range batch {
		assert.Equal(t, action.KindMoveFile, a.Kind)
		assert.Equal(t, filepath.Join(f.root, "data"), filepath.Dir(a.Arg(action.ArgDestination)))
	}

	// Synthesized actions pass through normal validation and dispatch.
	validated, err := action.ValidateBatch(batch)
	require.NoError(t, err)
	results := f.disp.Execute(context.Background(), validated, "req-infer")
	for _, r := range results {
		assert.True(t, r.OK, r.Message)
	}
	_, err = os.Stat(filepath.Join(f.root, "data", "q1.csv"))
	assert.NoError(t, err)
}

func TestInferPrefersLongestCategoryName(t *testing.T) {
	f, inf := newInferenceFixture(t)
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "data"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "old data"), 0755))
	require.NoError(t, f.store.AddCategory("data", filepath.Join(f.root, "data")))
	require.NoError(t, f.store.AddCategory("old data", filepath.Join(f.root, "old data")))
	indexLooseFiles(t, f, "q1.csv")

	// Both names appear in the text; the longer, more specific one wins,
	// every time.
	for i := 0; i < 5; i++ {
		batch, clar, inferred := inf.Infer("I've sorted your csv files into old data", nil)
		require.True(t, inferred)
		require.Empty(t, clar)
		require.Len(t, batch, 1)
		assert.Equal(t, filepath.Join(f.root, "old data"), filepath.Dir(batch[0].Arg(action.ArgDestination)))
	}
}

func TestInferSkipsQuestions(t *testing.T) {
	_, inf := newInferenceFixture(t)

	cases := []string{
		"Which folder would you like?",
		"I can do that. Do you want me to move the PDFs",
		"Should I put them in documents, let me know",
	}
	for _, text := range cases {
		batch, clar, inferred := inf.Infer(text, nil)
		assert.False(t, inferred, text)
		assert.Nil(t, batch)
		assert.Empty(t, clar)
	}
}

func TestInferPlainChatDoesNotTrigger(t *testing.T) {
	_, inf := newInferenceFixture(t)
	_, _, inferred := inf.Infer("Happy to help with your files anytime.", nil)
	assert.False(t, inferred)
}

func TestInferNoMatchingCategoryAsks(t *testing.T) {
	f, inf := newInferenceFixture(t)
	indexLooseFiles(t, f, "a.csv")

	batch, clar, inferred := inf.Infer("I've sorted your csv files", nil)
	assert.True(t, inferred)
	assert.Nil(t, batch)
	assert.Contains(t, clar, "which folder", "no category named, must ask")
}

func TestInferNoMatchingFilesAsks(t *testing.T) {
	f, inf := newInferenceFixture(t)
	require.NoError(t, f.store.AddCategory("data", filepath.Join(f.root, "data")))
	indexLooseFiles(t, f, "only.txt")

	batch, clar, inferred := inf.Infer("I've sorted your csv files into data", nil)
	assert.True(t, inferred)
	assert.Nil(t, batch)
	assert.NotEmpty(t, clar)
}

func TestInferAlreadyFiledFilesAreSkipped(t *testing.T) {
	f, inf := newInferenceFixture(t)
	require.NoError(t, f.store.AddCategory("data", filepath.Join(f.root, "data")))

	f.write(t, "data/done.csv", "x")
	f.write(t, "loose.csv", "x")
	require.NoError(t, f.store.ReplaceIndex(f.root, []memory.IndexEntry{
		{Path: filepath.Join(f.root, "data", "done.csv"), Name: "done.csv", Extension: ".csv"},
		{Path: filepath.Join(f.root, "loose.csv"), Name: "loose.csv", Extension: ".csv"},
	}))

	batch, _, inferred := inf.Infer("I've sorted your csv files into data", nil)
	require.True(t, inferred)
	require.Len(t, batch, 1)
	assert.Equal(t, filepath.Join(f.root, "loose.csv"), batch[0].Arg(action.ArgSource))
}

func TestInferCreateFolder(t *testing.T) {
	_, inf := newInferenceFixture(t)

	t.Run("quoted name", func(t *testing.T) {
		batch, clar, inferred := inf.Infer(`I've created a folder called "Tax Stuff" for you.`, nil)
		require.True(t, inferred)
		assert.Empty(t, clar)
		require.Len(t, batch, 1)
		assert.Equal(t, action.KindCreateFolder, batch[0].Kind)
		assert.Equal(t, "tax stuff", batch[0].Arg(action.ArgPath))
	})

	t.Run("bare name", func(t *testing.T) {
		batch, _, inferred := inf.Infer("I've created a folder named invoices", nil)
		require.True(t, inferred)
		require.Len(t, batch, 1)
		assert.Equal(t, "invoices", batch[0].Arg(action.ArgPath))
	})

	t.Run("no name asks", func(t *testing.T) {
		batch, clar, inferred := inf.Infer("I've created the folder you wanted", nil)
		require.True(t, inferred)
		assert.Nil(t, batch)
		assert.Contains(t, clar, "called")
	})
}

func TestInferRepeat(t *testing.T) {
	f, inf := newInferenceFixture(t)

	t.Run("nothing to repeat", func(t *testing.T) {
		batch, clar, inferred := inf.Infer("Okay, I'll do the same as before. Done the same again.", nil)
		assert.True(t, inferred)
		assert.Nil(t, batch)
		assert.NotEmpty(t, clar)
	})

	t.Run("replays last batch", func(t *testing.T) {
		prior := action.Batch{{Kind: action.KindCreateFolder, Args: map[string]string{action.ArgPath: "docs"}}}
		validated, err := action.ValidateBatch(prior)
		require.NoError(t, err)
		f.disp.Execute(context.Background(), validated, "req-1")

		batch, _, inferred := inf.Infer("Done, same as before.", nil)
		require.True(t, inferred)
		require.Len(t, batch, 1)
		assert.Equal(t, action.KindCreateFolder, batch[0].Kind)
	})
}

func TestInferPrecedenceSortBeatsCreate(t *testing.T) {
	f, inf := newInferenceFixture(t)
	require.NoError(t, f.store.AddCategory("data", filepath.Join(f.root, "data")))
	indexLooseFiles(t, f, "a.csv")

	// Mentions both sorting and creating; sort-completion wins.
	batch, _, inferred := inf.Infer("I've created the folder and sorted your csv files into data", nil)
	require.True(t, inferred)
	require.Len(t, batch, 1)
	assert.Equal(t, action.KindMoveFile, batch[0].Kind)
}
