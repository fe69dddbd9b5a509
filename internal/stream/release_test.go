// SPDX-License-Identifier: MIT

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRelease(t *testing.T) {
	tests := []struct {
		name string
		want ReleaseInfo
	}{
		{
			name: "Dark.Matter.2024.German.DL.1080p.WEB.x264-GRP",
			want: ReleaseInfo{Quality: "1080", Source: "web", Language: "multi", Year: 2024},
		},
		{
			name: "Dark.Matter.2024.GERMAN.1080p.BluRay.x264",
			want: ReleaseInfo{Quality: "1080", Source: "bluray", Language: "de", Year: 2024},
		},
		{
			name: "Dark.Matter.German.Subbed.720p.WEBRip",
			want: ReleaseInfo{Quality: "720", Source: "web", Language: "de-sub"},
		},
		{
			name: "Dark.Matter.2160p.UHD.BluRay.English",
			want: ReleaseInfo{Quality: "2160", Source: "bluray", Language: "en"},
		},
		{
			name: "Dark.Matter.English.Subbed.1080p.WEB",
			want: ReleaseInfo{Quality: "1080", Source: "web", Language: "en-sub"},
		},
		{
			name: "Dark Matter HDCAM",
			want: ReleaseInfo{Source: "cam"},
		},
		{
			name: "Dark Matter",
			want: ReleaseInfo{},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseRelease(tc.name))
		})
	}
}

func TestRankTable(t *testing.T) {
	// Language scores.
	assert.Equal(t, 1030, Rank(ReleaseInfo{Language: "de"}, 1, 0))
	assert.Equal(t, 1030, Rank(ReleaseInfo{Language: "multi"}, 1, 0), "multi carries the German track")
	assert.Equal(t, 530, Rank(ReleaseInfo{Language: "de-sub"}, 1, 0))
	assert.Equal(t, 230, Rank(ReleaseInfo{Language: "en-sub"}, 1, 0))
	assert.Equal(t, 180, Rank(ReleaseInfo{Language: "en"}, 1, 0))
	assert.Equal(t, 130, Rank(ReleaseInfo{}, 1, 0), "unknown language scores 100")

	// Quality classes: 4K 60, 1080 50, 720 40, SD 30, TS 20, CAM 10.
	assert.Equal(t, 1060, Rank(ReleaseInfo{Language: "de", Quality: "2160"}, 1, 0))
	assert.Equal(t, 1050, Rank(ReleaseInfo{Language: "de", Quality: "1080"}, 1, 0))
	assert.Equal(t, 1040, Rank(ReleaseInfo{Language: "de", Quality: "720"}, 1, 0))
	assert.Equal(t, 1030, Rank(ReleaseInfo{Language: "de", Quality: "480"}, 1, 0))
	assert.Equal(t, 1020, Rank(ReleaseInfo{Language: "de", Quality: "1080", Source: "ts"}, 1, 0))
	assert.Equal(t, 1010, Rank(ReleaseInfo{Language: "de", Quality: "2160", Source: "cam"}, 1, 0))

	// Quality multiplier scales the quality term only.
	assert.Equal(t, 1120, Rank(ReleaseInfo{Language: "de", Quality: "2160"}, 2, 0))

	// Hoster bonus clamps to [0,5].
	assert.Equal(t, 1053, Rank(ReleaseInfo{Language: "de", Quality: "1080"}, 1, 3))
	assert.Equal(t, 1055, Rank(ReleaseInfo{Language: "de", Quality: "1080"}, 1, 9))
	assert.Equal(t, 1050, Rank(ReleaseInfo{Language: "de", Quality: "1080"}, 1, -1))
}

func TestRankOrdering(t *testing.T) {
	german4K := Rank(ReleaseInfo{Language: "de", Quality: "2160"}, 1, 0)
	german1080 := Rank(ReleaseInfo{Language: "de", Quality: "1080"}, 1, 0)
	germanSub4K := Rank(ReleaseInfo{Language: "de-sub", Quality: "2160"}, 1, 0)
	englishSub := Rank(ReleaseInfo{Language: "en-sub", Quality: "1080"}, 1, 0)
	english4K := Rank(ReleaseInfo{Language: "en", Quality: "2160"}, 1, 0)
	englishCam := Rank(ReleaseInfo{Language: "en", Source: "cam"}, 1, 0)
	unknown := Rank(ReleaseInfo{}, 1, 0)

	// Language class dominates everything else.
	assert.Greater(t, german4K, german1080)
	assert.Greater(t, german1080, germanSub4K)
	assert.Greater(t, germanSub4K, englishSub)
	assert.Greater(t, englishSub, english4K)
	assert.Greater(t, english4K, englishCam)
	assert.Greater(t, englishCam, unknown)
}
