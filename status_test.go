package nandc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	s := Status(0xc0)
	assert.True(t, s.Writable())
	assert.True(t, s.Ready())
	assert.False(t, s.Failed())
	assert.Equal(t, "11000000 WP#,RDY", s.String())
	assert.Equal(t, "01000011 RDY,FAILC,FAIL", Status(0x43).String())
	assert.Equal(t, "00000000", Status(0).String())
}

func TestKnownChips(t *testing.T) {
	ci, ok := LookupChip([8]byte{0x2c, 0xda, 0x90, 0x95, 0x06})
	assert.True(t, ok)
	assert.Equal(t, "Micron MT29F2G08 2Gb", ci.Name)
	_, ok = LookupChip([8]byte{0xff, 0xff})
	assert.False(t, ok)

	for id, ci := range KnownChips() {
		assert.NoError(t, ci.validate(), "%X", id)
	}

	known := &Host{params: chipParamsByName("Samsung K9F1208 512Mb")}
	assert.Equal(t, 3*time.Millisecond, known.paramOrMax(func(p *chipParams) time.Duration { return p.tBERS }))
	unknown := &Host{}
	assert.Equal(t, 10*time.Millisecond, unknown.paramOrMax(func(p *chipParams) time.Duration { return p.tBERS }))
	assert.Equal(t, 700*time.Microsecond, unknown.paramOrMax(func(p *chipParams) time.Duration { return p.tPROG }))
}
