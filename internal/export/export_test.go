package export

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fitgrid-session/internal/persistence"
)

func exportDoc() *persistence.Document {
	return &persistence.Document{
		Version: persistence.DocumentVersion,
		Session: persistence.SessionMeta{
			ID:              "sess-9",
			Date:            "2026-03-01",
			Start:           "2026-03-01T18:00:00Z",
			End:             "2026-03-01T18:30:00Z",
			DurationSeconds: 1800,
			Timezone:        "America/Denver",
		},
		Participants: map[string]persistence.ParticipantMeta{
			"ana": {DisplayName: "Ana"},
			"ben": {DisplayName: "Ben"},
		},
		Summary: persistence.SummaryDoc{
			Participants: map[string]persistence.ParticipantStats{
				"ana": {AvgHeartRate: 118, MaxHeartRate: 152, TotalBeats: 3540.5, Coins: 12, ActiveTicks: 350},
				"ben": {AvgHeartRate: 101, MaxHeartRate: 139, TotalBeats: 3030.0, Coins: 8, ActiveTicks: 340},
			},
			TotalCoins: 20,
		},
	}
}

func TestGenerateSessionWorkbook(t *testing.T) {
	body, err := GenerateSessionWorkbook(exportDoc())
	require.NoError(t, err)
	require.NotEmpty(t, body)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()

	// session block
	id, err := f.GetCellValue("Session Summary", "B1")
	require.NoError(t, err)
	assert.Equal(t, "sess-9", id)

	coins, err := f.GetCellValue("Session Summary", "B7")
	require.NoError(t, err)
	assert.Equal(t, "20", coins)

	// participant table header sits two rows below the session block
	header, err := f.GetCellValue("Session Summary", "A9")
	require.NoError(t, err)
	assert.Equal(t, "Participant", header)

	// rows are sorted by participant id
	first, err := f.GetCellValue("Session Summary", "A10")
	require.NoError(t, err)
	assert.Equal(t, "Ana", first)

	avg, err := f.GetCellValue("Session Summary", "B10")
	require.NoError(t, err)
	assert.Equal(t, "118", avg)

	second, err := f.GetCellValue("Session Summary", "A11")
	require.NoError(t, err)
	assert.Equal(t, "Ben", second)
}

func TestGenerateSessionWorkbookRejectsNil(t *testing.T) {
	_, err := GenerateSessionWorkbook(nil)
	assert.Error(t, err)
}

func TestWriteSessionWorkbook(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteSessionWorkbook(dir, exportDoc())
	require.NoError(t, err)
	assert.Contains(t, path, "session_sess-9.xlsx")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
