package librarysync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `@ARTICLE{2019ApJ...882...12S,
       author = {{Smith}, J. and {Jones}, K.},
        title = "{Dark matter in dwarf spheroidal galaxies}",
      journal = {\apj},
         year = 2019,
       adsurl = {https://ui.adsabs.harvard.edu/abs/2019ApJ...882...12S},
}

@INPROCEEDINGS{2020A&A...641A...6P,
       author = {{Planck Collaboration}},
        title = "{Planck 2018 results}",
       adsurl = {https://ui.adsabs.harvard.edu/abs/2020A%26A...641A...6P},
}

@MISC{2021arXiv210100001D,
        title = "{A note citing 2019ApJ...882...12S}",
       eprint = {2101.00001},
}
`

func TestSplitExport(t *testing.T) {
	ids := []string{"2019ApJ...882...12S", "2020A&A...641A...6P", "2021arXiv210100001D"}

	got := splitExport(sampleExport, ids)
	require.Len(t, got, 3)

	assert.Contains(t, got["2019ApJ...882...12S"], "Dark matter in dwarf spheroidal galaxies")
	assert.Contains(t, got["2020A&A...641A...6P"], "Planck 2018 results")
	assert.Contains(t, got["2021arXiv210100001D"], "A note citing")
	assert.NotContains(t, got["2019ApJ...882...12S"], "Planck")
}

func TestSplitExport_SubstringFallbackSkipsAttributedIDs(t *testing.T) {
	blob := "@MISC{first,\n  note = {about ID-1}\n}\n@MISC{second,\n  note = {about ID-1 and ID-2}\n}\n"

	got := splitExport(blob, []string{"ID-1", "ID-2"})
	require.Len(t, got, 2)
	assert.Contains(t, got["ID-1"], "first")
	assert.Contains(t, got["ID-2"], "second")
}

func TestSplitExport_IgnoresUnknownIDs(t *testing.T) {
	got := splitExport(sampleExport, []string{"1999MNRAS.000..000X"})
	assert.Empty(t, got)
}

func TestSplitExport_Empty(t *testing.T) {
	assert.Empty(t, splitExport("", []string{"A"}))
	assert.Empty(t, splitExport("no entries here", []string{"A"}))
}
