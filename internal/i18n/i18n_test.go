package i18n

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxFor(t *testing.T, langs ...string) context.Context {
	t.Helper()
	require.NoError(t, Init("en"))
	return WithLocalizer(context.Background(), NewLocalizer(langs...))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := ctxFor(t, "en")

	assert.Equal(t, "Exam not found.", T(ctx, "EXAM_NOT_FOUND"))
	assert.Equal(t, "Passage", T(ctx, "PassageLabel"))
}

func TestTranslateIndonesian(t *testing.T) {
	ctx := ctxFor(t, "id")

	assert.Equal(t, "Ujian tidak ditemukan.", T(ctx, "EXAM_NOT_FOUND"))
	assert.Equal(t, "Soal 2.1", Td(ctx, "QuestionLabel", map[string]any{"Number": "2.1"}))
}

func TestAcceptLanguageHeader(t *testing.T) {
	ctx := ctxFor(t, "fr-FR,id;q=0.8,en;q=0.5")

	assert.Equal(t, "Bacaan", T(ctx, "PassageLabel"))
}

func TestUnknownLanguageFallsBackToDefault(t *testing.T) {
	ctx := ctxFor(t, "xx")

	assert.Equal(t, "Passage", T(ctx, "PassageLabel"))
}

func TestPluralTranslation(t *testing.T) {
	ctx := ctxFor(t, "en")

	assert.Equal(t, "1 question answered.", Tp(ctx, "QuestionsAnswered", 1))
	assert.Equal(t, "5 questions answered.", Tp(ctx, "QuestionsAnswered", 5))

	idCtx := ctxFor(t, "id")
	assert.Equal(t, "1 soal dijawab.", Tp(idCtx, "QuestionsAnswered", 1))
}

func TestMissingKey(t *testing.T) {
	ctx := ctxFor(t, "en")

	assert.Equal(t, "NonExistentKey", T(ctx, "NonExistentKey"))
	assert.False(t, Has("NonExistentKey"))
	assert.True(t, Has("NOT_FOUND"))
}

func TestLanguages(t *testing.T) {
	require.NoError(t, Init("en"))
	assert.ElementsMatch(t, []string{"en", "id"}, Languages())
}

func TestInitRejectsBadTag(t *testing.T) {
	assert.Error(t, Init("not a tag!"))
}
