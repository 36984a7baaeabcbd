package services

import "testing"

func TestMapCatalogTrack(t *testing.T) {
	item := catalogTrack{
		ID:         "t1",
		Name:       "Song",
		DurationMS: 215000,
	}
	item.Artists = []struct {
		Name string `json:"name"`
	}{{Name: "First"}, {Name: "Second"}}
	item.Album.Images = []struct {
		URL string `json:"url"`
	}{{URL: "https://img.example/a.jpg"}}
	item.ExternalURLs.Spotify = "https://open.example/t1"

	track := mapCatalogTrack(item)

	if track.ID != "t1" || track.Title != "Song" {
		t.Errorf("unexpected track: %+v", track)
	}
	if track.Artist != "First, Second" {
		t.Errorf("artists not joined: %q", track.Artist)
	}
	if track.Icon != "https://img.example/a.jpg" {
		t.Errorf("icon = %q", track.Icon)
	}
	if track.Duration != 215000 {
		t.Errorf("duration = %d", track.Duration)
	}
}

func TestMapCatalogTrackMinimal(t *testing.T) {
	track := mapCatalogTrack(catalogTrack{ID: "t2", Name: "Bare"})
	if track.Artist != "" || track.Icon != "" || track.URL != "" {
		t.Errorf("empty upstream fields must stay empty: %+v", track)
	}
}
