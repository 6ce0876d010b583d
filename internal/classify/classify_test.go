package classify

import (
	"testing"

	"github.com/medialib/agent/internal/model"
	"github.com/stretchr/testify/assert"
)

func testRules() Rules {
	return Rules{
		Media: MediaExtensions{
			Video:    []string{"mkv", "mp4"},
			Image:    []string{"jpg", "png"},
			Subtitle: []string{"srt"},
			XML:      []string{"nfo"},
		},
		JunkPatterns:          []string{"*.part", "sample*"},
		JunkExcludeExtensions: []string{"srt"},
	}
}

func TestClassifyVideo(t *testing.T) {
	r := Classify("/r/a.mkv", 1<<20, testRules())
	assert.Equal(t, model.KindVideo, r.Kind)
	assert.Equal(t, "mkv", r.Ext)
}

func TestClassifyOther(t *testing.T) {
	r := Classify("/r/b.txt", 100, testRules())
	assert.Equal(t, model.KindOther, r.Kind)
}

func TestClassifyJunkByPattern(t *testing.T) {
	r := Classify("/r/sample.part", 10, testRules())
	assert.Equal(t, model.KindJunk, r.Kind)
	assert.NotEmpty(t, r.Reason)
}

func TestClassifyJunkExcludedExtensionWins(t *testing.T) {
	// sample.srt matches the "sample*" junk glob, but .srt is excluded.
	r := Classify("/r/sample.srt", 10, testRules())
	assert.Equal(t, model.KindSubtitle, r.Kind)
}

func TestClassifyCaseInsensitiveExtension(t *testing.T) {
	r := Classify("/r/A.MKV", 10, testRules())
	assert.Equal(t, model.KindVideo, r.Kind)
	assert.Equal(t, "mkv", r.Ext)
}

func TestClassifyCaseInsensitiveJunkPattern(t *testing.T) {
	r := Classify("/r/SAMPLE.mp4", 10, testRules())
	assert.Equal(t, model.KindJunk, r.Kind)
}

func TestClassifyNoExtension(t *testing.T) {
	r := Classify("/r/README", 10, testRules())
	assert.Equal(t, model.KindOther, r.Kind)
	assert.Equal(t, "", r.Ext)
}

func TestClassifyIsDeterministic(t *testing.T) {
	rules := testRules()
	a := Classify("/r/movie.mkv", 1<<30, rules)
	b := Classify("/r/movie.mkv", 1<<30, rules)
	assert.Equal(t, a, b)
}
