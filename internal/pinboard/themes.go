package pinboard

import (
	"strings"

	"github.com/makerloom/stitchpress/internal/pattern"
)

// Theme is one recurring design motif with the hashtags its pins carry.
type Theme struct {
	Name     string
	Keywords []string
	Hashtags []string
}

// themes is the fixed scoring order. Ties go to the earliest entry, so the
// order here is part of the behavior: the more specific motifs sit above the
// broader ones.
var themes = []Theme{
	{
		Name:     "christmas",
		Keywords: []string{"christmas", "xmas", "santa", "reindeer", "snowflake", "ornament", "advent"},
		Hashtags: []string{"#christmascrossstitch", "#christmascrafts", "#holidaydecor"},
	},
	{
		Name:     "halloween",
		Keywords: []string{"halloween", "pumpkin", "ghost", "witch", "spooky", "skull", "bat"},
		Hashtags: []string{"#halloweencrossstitch", "#spookyseason", "#halloweendecor"},
	},
	{
		Name:     "easter",
		Keywords: []string{"easter", "egg", "spring", "chick", "tulip"},
		Hashtags: []string{"#eastercrossstitch", "#springcrafts"},
	},
	{
		Name:     "cats",
		Keywords: []string{"cat", "kitten", "kitty", "meow"},
		Hashtags: []string{"#catcrossstitch", "#catlover", "#catsofpinterest"},
	},
	{
		Name:     "dogs",
		Keywords: []string{"dog", "puppy", "pup", "terrier", "corgi"},
		Hashtags: []string{"#dogcrossstitch", "#doglover"},
	},
	{
		Name:     "woodland",
		Keywords: []string{"fox", "owl", "deer", "hedgehog", "rabbit", "bunny", "squirrel", "forest", "woodland", "mushroom"},
		Hashtags: []string{"#woodlandanimals", "#forestfriends", "#animalcrossstitch"},
	},
	{
		Name:     "ocean",
		Keywords: []string{"ocean", "sea", "whale", "fish", "mermaid", "shell", "nautical", "anchor"},
		Hashtags: []string{"#oceancrossstitch", "#nauticaldecor", "#seacreatures"},
	},
	{
		Name:     "flowers",
		Keywords: []string{"flower", "floral", "rose", "peony", "daisy", "lavender", "bouquet", "garden", "wildflower"},
		Hashtags: []string{"#floralcrossstitch", "#flowerpattern", "#botanical"},
	},
	{
		Name:     "baby",
		Keywords: []string{"baby", "nursery", "birth", "newborn"},
		Hashtags: []string{"#babycrossstitch", "#nurserydecor", "#birthannouncement"},
	},
	{
		Name:     "geometric",
		Keywords: []string{"geometric", "mandala", "sampler", "band", "biscornu", "motif"},
		Hashtags: []string{"#moderncrossstitch", "#geometricpattern", "#sampler"},
	},
}

// genericTheme is what a design falls back to when nothing scores.
var genericTheme = Theme{
	Name:     "classic",
	Hashtags: []string{"#handmadedecor", "#stitchersofinstagram"},
}

// genericHashtags lead every pin description regardless of theme.
var genericHashtags = []string{
	"#crossstitch", "#crossstitchpattern", "#embroidery", "#needlework", "#pdfpattern",
}

// DetectTheme scores each theme by counting case-insensitive keyword
// occurrences across the design's title, description, and notes, and picks
// the highest. Ties break toward the earliest theme in the list; a zero
// score falls back to the generic theme. Deterministic for identical input.
func DetectTheme(info *pattern.Info) Theme {
	text := strings.ToLower(info.Title + " " + info.Description + " " + info.Notes)

	best := genericTheme
	bestScore := 0
	for _, theme := range themes {
		score := 0
		for _, kw := range theme.Keywords {
			score += strings.Count(text, kw)
		}
		if score > bestScore {
			best = theme
			bestScore = score
		}
	}
	return best
}
