package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed", "cleaned_data.csv")

	in := TableFromRecords([]PlayerRecord{
		{PlayerName: "Faker", SummonerID: "a", LP: 1500, Wins: 60, Losses: 40, TotalGames: 100, WinRate: 60},
		{PlayerName: "Chovy, Jr", SummonerID: "b", LP: 1400, Wins: 30, Losses: 10, TotalGames: 40, WinRate: 75.25},
	})
	in.Set(1, ColLosses, NullCell())

	if err := WriteCSV(path, in); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "player_name,summoner_id,lp,wins,losses,total_games,win_rate" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[2] != `"Chovy, Jr",b,1400,30,,40,75.25` {
		t.Errorf("unexpected row %q", lines[2])
	}

	out, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.Len())
	}
	if kind, _ := out.Kind(ColWinRate); kind != ColumnNumber {
		t.Errorf("win_rate should read back as a number")
	}
	if c, _ := out.Cell(1, ColLosses); !c.Null {
		t.Errorf("empty field should read back as null, got %+v", c)
	}
	if c, _ := out.Cell(1, ColPlayerName); c.Str != "Chovy, Jr" {
		t.Errorf("unexpected name %q", c.Str)
	}
	if c, _ := out.Cell(1, ColWinRate); c.Num != 75.25 {
		t.Errorf("unexpected win_rate %v", c.Num)
	}
}

func TestReadCSV_InfersExtraColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	content := "player_name,summoner_id,lp,veteran,rank\nFaker,a,1500,1,I\nChovy,b,1400,,II\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if kind, _ := out.Kind("veteran"); kind != ColumnNumber {
		t.Error("veteran should be inferred as numeric")
	}
	if kind, _ := out.Kind("rank"); kind != ColumnString {
		t.Error("rank should stay a string")
	}
}

func TestReadCSV_Errors(t *testing.T) {
	dir := t.TempDir()

	if _, err := ReadCSV(filepath.Join(dir, "missing.csv")); err == nil {
		t.Error("expected an error for a missing file")
	}

	empty := filepath.Join(dir, "empty.csv")
	os.WriteFile(empty, nil, 0o644)
	if _, err := ReadCSV(empty); err == nil {
		t.Error("expected an error for a file with no header")
	}

	bad := filepath.Join(dir, "bad.csv")
	os.WriteFile(bad, []byte("player_name,summoner_id,lp\nFaker,a,lots\n"), 0o644)
	if _, err := ReadCSV(bad); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected a parse error on line 2, got %v", err)
	}
}
