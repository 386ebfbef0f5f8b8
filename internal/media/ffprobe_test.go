package media

import "testing"

func TestParseProbeOutput(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000"}
		],
		"format": {"filename": "clip.mp4", "duration": "5.005000"}
	}`)

	meta, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if !meta.HasVideo || !meta.HasAudio {
		t.Fatalf("expected video and audio, got %+v", meta)
	}
	if meta.Width != 1920 || meta.Height != 1080 {
		t.Fatalf("unexpected dimensions %dx%d", meta.Width, meta.Height)
	}
	if meta.DurationSec != 5.005 {
		t.Fatalf("expected duration 5.005, got %v", meta.DurationSec)
	}
}

func TestParseProbeOutputFallsBackToStreamDuration(t *testing.T) {
	data := []byte(`{"streams":[{"codec_type":"audio","duration":"3.5"}],"format":{}}`)
	meta, err := parseProbeOutput(data)
	if err != nil {
		t.Fatalf("parseProbeOutput: %v", err)
	}
	if meta.DurationSec != 3.5 || meta.HasVideo {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestParseProbeOutputRejectsEmpty(t *testing.T) {
	if _, err := parseProbeOutput([]byte(`{"streams":[],"format":{"duration":"1"}}`)); err == nil {
		t.Fatal("expected error for media without streams")
	}
	if _, err := parseProbeOutput([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
