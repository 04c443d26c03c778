package prompts

import (
	"context"
	"hash/fnv"

	"github.com/familydiary/diary/internal/models"
)

var defaultThemes = []string{
	"今日いちばん笑ったのはどんな瞬間でしたか？",
	"家族の誰かに「ありがとう」を伝えたいことはありますか？",
	"今日食べたものの中で一番おいしかったものは？",
	"最近できるようになったことを一つ書いてみましょう。",
	"今日見つけた小さな季節の変化は何ですか？",
	"明日やってみたいことは何ですか？",
	"子どもの頃に好きだった遊びを思い出してみましょう。",
}

// StaticGenerator picks a theme from a fixed list, deterministically per date.
type StaticGenerator struct {
	Themes []string
}

// Generate implements Generator. Seasonal themes take precedence on special days.
func (g StaticGenerator) Generate(_ context.Context, day Context, recent []models.DailyPrompt) (string, error) {
	themes := g.Themes
	if len(themes) == 0 {
		themes = defaultThemes
	}
	if day.SpecialEvent != "" {
		return day.SpecialEvent + "にちなんだ思い出を書いてみましょう。", nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(day.Date))
	start := int(h.Sum32() % uint32(len(themes)))

	used := make(map[string]bool, len(recent))
	for _, p := range recent {
		used[p.Prompt] = true
	}
	for i := range themes {
		candidate := themes[(start+i)%len(themes)]
		if !used[candidate] {
			return candidate, nil
		}
	}
	return themes[start], nil
}
