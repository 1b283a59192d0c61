package weather

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractResultCodePadsSingleDigit(t *testing.T) {
	root := &xmlRoot{}
	root.Header.ResultCode = "3"
	assert.Equal(t, "03", extractResultCode(root))
}

func TestExtractResultCodeDefaultsToNAWhenMissing(t *testing.T) {
	root := &xmlRoot{}
	assert.Equal(t, "N/A", extractResultCode(root))
}

func TestAtoiNonNegativeStopsAtFirstNonDigit(t *testing.T) {
	assert.Equal(t, 42, atoiNonNegative("42"))
	assert.Equal(t, 0, atoiNonNegative(""))
	assert.Equal(t, 7, atoiNonNegative("7abc"))
}

func TestHasNextPageStopsOnceTotalCountIsCovered(t *testing.T) {
	assert.False(t, hasNextPage(1, 100, 5, 5), "a first page that already covers totalCount means there is no more data")
	assert.True(t, hasNextPage(1, 100, 100, 250))
	assert.False(t, hasNextPage(3, 100, 50, 250))
}

func TestFindItemsUnmarshalsNestedStructure(t *testing.T) {
	raw := `<response><body><items><item><areaName>서울</areaName></item><item><areaName>부산</areaName></item></items></body></response>`
	var root xmlRoot
	err := xml.Unmarshal([]byte(raw), &root)
	assert.NoError(t, err)
	items := findItems(&root)
	assert.Len(t, items, 2)
	assert.Equal(t, "서울", items[0].AreaName)
}
