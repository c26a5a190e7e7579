package gateway

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseDepthDeltaBare(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":101,"u":103,
		"b":[["100.5","2.0"],["100.4","0"]],"a":[["100.6","1.5"]]}`)
	d, err := ParseDepthDelta(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d.Symbol != "BTCUSDT" || d.FirstSequenceID != 101 || d.FinalSequenceID != 103 {
		t.Fatalf("parsed = %+v", d)
	}
	if len(d.BidChanges) != 2 || len(d.AskChanges) != 1 {
		t.Fatalf("changes = %d bids %d asks", len(d.BidChanges), len(d.AskChanges))
	}
}

func TestParseDepthDeltaCombined(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":5,"u":6,"b":[],"a":[]}}`)
	d, err := ParseDepthDelta(raw)
	if err != nil {
		t.Fatal(err)
	}
	if d.FirstSequenceID != 5 || d.FinalSequenceID != 6 {
		t.Fatalf("parsed = %+v", d)
	}
}

func TestParseDepthDeltaNonDepthEvent(t *testing.T) {
	_, err := ParseDepthDelta([]byte(`{"result":null,"id":1}`))
	if !errors.Is(err, ErrNotDepthUpdate) {
		t.Fatalf("expected ErrNotDepthUpdate, got %v", err)
	}
}

func TestParseDepthDeltaMalformed(t *testing.T) {
	_, err := ParseDepthDelta([]byte(`{"e":"depthUpdate","s":`))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLevelsConversion(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":1,"b":[["0.1","0.3"]],"a":[]}`)
	d, err := ParseDepthDelta(raw)
	if err != nil {
		t.Fatal(err)
	}
	levels, err := Levels(d.BidChanges)
	if err != nil {
		t.Fatal(err)
	}
	// 0.1 与 0.3 在精确小数下无舍入。
	if levels[0].Price.String() != "0.1" || levels[0].Quantity.String() != "0.3" {
		t.Fatalf("level = %s @ %s", levels[0].Quantity, levels[0].Price)
	}
}

func TestLevelsRejectsGarbage(t *testing.T) {
	pairs := [][2]json.Number{{json.Number("abc"), json.Number("1")}}
	if _, err := Levels(pairs); err == nil {
		t.Fatal("expected error for non-numeric price")
	}
}
