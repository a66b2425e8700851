package videoid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidChannelID(t *testing.T) {
	require.True(t, ValidChannelID("UC_x5XG1OV2P6uZZ5FSM9Ttw"))
	require.False(t, ValidChannelID("UU_x5XG1OV2P6uZZ5FSM9Ttw"))
	require.False(t, ValidChannelID("UC123"))
}

func TestWatchURL(t *testing.T) {
	require.Equal(t, "https://www.youtube.com/watch?v=ggLajT7aMMk", WatchURL("ggLajT7aMMk"))
}

func TestParseChannel(t *testing.T) {
	id, err := ParseChannel(" UC_x5XG1OV2P6uZZ5FSM9Ttw ")
	require.NoError(t, err)
	require.Equal(t, "UC_x5XG1OV2P6uZZ5FSM9Ttw", id)

	id, err = ParseChannel("https://www.youtube.com/channel/UC_x5XG1OV2P6uZZ5FSM9Ttw/videos")
	require.NoError(t, err)
	require.Equal(t, "UC_x5XG1OV2P6uZZ5FSM9Ttw", id)

	_, err = ParseChannel("https://www.youtube.com/@GoogleDevelopers")
	require.Error(t, err)

	_, err = ParseChannel("https://www.youtube.com/channel/UC123")
	require.Error(t, err)
}
