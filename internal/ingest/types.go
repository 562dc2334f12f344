package ingest

import "time"

// Provider response shapes. Only the fields the sync paths read are
// declared.

type SeasonalPlayersResponse struct {
	Players []struct {
		Player APIPlayer `json:"player"`
	} `json:"players"`
}

type APIPlayer struct {
	ID              int64  `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	PrimaryPosition string `json:"primaryPosition"`
	RosterStatus    string `json:"currentRosterStatus"`
	CurrentTeam     *struct {
		Abbreviation string `json:"abbreviation"`
	} `json:"currentTeam"`
}

type DailyGamesResponse struct {
	Games []APIGame `json:"games"`
}

type APIGame struct {
	Schedule struct {
		ID        int64     `json:"id"`
		StartTime time.Time `json:"startTime"`
		HomeTeam  struct {
			Abbreviation string `json:"abbreviation"`
		} `json:"homeTeam"`
		AwayTeam struct {
			Abbreviation string `json:"abbreviation"`
		} `json:"awayTeam"`
		PlayedStatus string `json:"playedStatus"`
	} `json:"schedule"`
	Score struct {
		HomeScoreTotal int64 `json:"homeScoreTotal"`
		AwayScoreTotal int64 `json:"awayScoreTotal"`
	} `json:"score"`
}

type DailyGamelogsResponse struct {
	Gamelogs []APIGamelog `json:"gamelogs"`
}

// APIGamelog is one player's line in one game. The provider groups stats
// into offense/defense/rebounds/fieldGoals/freeThrows blocks.
type APIGamelog struct {
	Game struct {
		ID        int64     `json:"id"`
		StartTime time.Time `json:"startTime"`
	} `json:"game"`
	Player struct {
		ID int64 `json:"id"`
	} `json:"player"`
	Stats struct {
		Offense struct {
			Pts int64 `json:"pts"`
			Ast int64 `json:"ast"`
		} `json:"offense"`
		Defense struct {
			Stl int64 `json:"stl"`
			Blk int64 `json:"blk"`
			Tov int64 `json:"tov"`
		} `json:"defense"`
		Rebounds struct {
			Reb int64 `json:"reb"`
		} `json:"rebounds"`
		FieldGoals struct {
			Fg3PtMade int64 `json:"fg3PtMade"`
		} `json:"fieldGoals"`
		FreeThrows struct {
			FtMade int64 `json:"ftMade"`
		} `json:"freeThrows"`
	} `json:"stats"`
}
