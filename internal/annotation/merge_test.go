package annotation

import (
	"fmt"
	"testing"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func highlight(id string, page int, text string) model.Annotation {
	return model.Annotation{
		ID:        id,
		Page:      page,
		Type:      model.AnnotationHighlight,
		BBox:      &model.BBox{X: 10, Y: 20, Width: 100, Height: 12},
		Color:     "#ffeb3b",
		Opacity:   0.4,
		Text:      text,
		CreatedAt: epoch,
	}
}

func TestMerge_Precedence(t *testing.T) {
	embedded := highlight("a", 0, "embedded")
	embedded.IsBurned = true
	local := highlight("a", 0, "local")
	local.UpdatedAt = epoch.Add(time.Hour) // newer, still loses to cloud
	cloudCopy := highlight("a", 0, "cloud")
	onlyLocal := highlight("b", 1, "local only")

	merged := Merge(
		Source{Kind: model.FromCloud, Items: []model.Annotation{cloudCopy}},
		Source{Kind: model.FromEmbedded, Items: []model.Annotation{embedded}},
		Source{Kind: model.FromLocal, Items: []model.Annotation{local, onlyLocal}},
	)
	require.Len(t, merged, 2)
	assert.Equal(t, "cloud", merged[0].Text)
	assert.Equal(t, model.FromCloud, merged[0].Source)
	assert.True(t, merged[0].IsBurned, "burned state survives a newer copy")
	assert.Equal(t, "local only", merged[1].Text)
	assert.Equal(t, model.FromLocal, merged[1].Source)
}

func TestMerge_BurnedLayoutWins(t *testing.T) {
	embedded := highlight("a", 0, "")
	embedded.IsBurned = true
	cloudCopy := highlight("a", 3, "moved elsewhere")
	cloudCopy.BBox = &model.BBox{X: 400, Y: 400, Width: 10, Height: 10}
	cloudCopy.Color = "#00ff00"

	merged := Merge(
		Source{Kind: model.FromEmbedded, Items: []model.Annotation{embedded}},
		Source{Kind: model.FromCloud, Items: []model.Annotation{cloudCopy}},
	)
	require.Len(t, merged, 1)
	assert.Equal(t, 0, merged[0].Page)
	assert.Equal(t, *embedded.BBox, *merged[0].BBox)
	assert.Equal(t, "#ffeb3b", merged[0].Color)
	assert.Equal(t, "moved elsewhere", merged[0].Text)
	assert.True(t, merged[0].IsBurned)
}

func TestMerge_DropsInvalid(t *testing.T) {
	noBox := highlight("nobox", 0, "")
	noBox.BBox = nil
	noPaths := highlight("nopaths", 0, "")
	noPaths.Type = model.AnnotationInk
	unknown := highlight("unknown", 0, "")
	unknown.Type = "stamp"

	merged := Merge(Source{Kind: model.FromCloud, Items: []model.Annotation{noBox, noPaths, unknown, highlight("ok", 0, "")}})
	require.Len(t, merged, 1)
	assert.Equal(t, "ok", merged[0].ID)
}

func TestMerge_OrderAndDegenerateInput(t *testing.T) {
	late := highlight("z", 0, "")
	late.CreatedAt = epoch.Add(time.Minute)
	early := highlight("y", 0, "")
	tie := highlight("x", 0, "")
	nextPage := highlight("w", 1, "")
	noID := highlight("", 0, "dropped")

	merged := Merge(Source{Kind: model.FromLocal, Items: []model.Annotation{nextPage, late, early, tie, noID}})
	ids := make([]string, len(merged))
	for i, a := range merged {
		ids[i] = a.ID
	}
	assert.Equal(t, []string{"x", "y", "z", "w"}, ids)

	assert.Empty(t, Merge())
	assert.Empty(t, Merge(Source{Kind: "bogus", Items: []model.Annotation{highlight("q", 0, "")}}))
}

func TestMerge_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := []model.AnnotationSource{model.FromEmbedded, model.FromLocal, model.FromCloud}

	// each id is present in a random subset of sources; the winner is the
	// highest-precedence source holding it, regardless of argument order
	properties.Property("highest precedence wins", prop.ForAll(
		func(masks []uint8, rotate int) bool {
			sources := make([]Source, 3)
			for i, k := range kinds {
				sources[i].Kind = k
			}
			want := make(map[string]model.AnnotationSource)
			for n, mask := range masks {
				id := fmt.Sprintf("id-%03d", n)
				for i, k := range kinds {
					if mask&(1<<i) != 0 {
						sources[i].Items = append(sources[i].Items, highlight(id, n%4, string(k)))
						want[id] = k
					}
				}
			}
			rotated := append(sources[rotate%3:], sources[:rotate%3]...)

			merged := Merge(rotated...)
			if len(merged) != len(want) {
				return false
			}
			for _, a := range merged {
				if a.Source != want[a.ID] || a.Text != string(want[a.ID]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(0, 7)),
		gen.IntRange(0, 2),
	))

	properties.Property("merge is idempotent", prop.ForAll(
		func(masks []uint8) bool {
			var items []model.Annotation
			for n, mask := range masks {
				items = append(items, highlight(fmt.Sprintf("id-%03d", n), int(mask), "x"))
			}
			once := Merge(Source{Kind: model.FromLocal, Items: items})
			twice := Merge(Source{Kind: model.FromLocal, Items: once}, Source{Kind: model.FromLocal, Items: once})
			if len(once) != len(twice) {
				return false
			}
			for i := range once {
				if once[i].ID != twice[i].ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt8Range(0, 7)),
	))

	properties.TestingRun(t)
}
