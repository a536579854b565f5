package gateway

// Client-to-server message types.
const (
	MsgJoinAuction = "joinAuction"
	MsgPlaceBid    = "placeBid"
	MsgEndAuction  = "endAuction"
)

// clientMessage is the single envelope clients send. Which fields matter
// depends on Type.
type clientMessage struct {
	Type      string `json:"type"`
	AuctionID int64  `json:"auctionId"`
	UserID    int64  `json:"userId"`
	Amount    int64  `json:"amount"`
}

type currentHighestMsg struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

type bidUpdateMsg struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
	UserID int64  `json:"userId"`
	TS     int64  `json:"ts"`
}

type bidQueuedMsg struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

type bidAcceptedMsg struct {
	Type   string `json:"type"`
	BidID  int64  `json:"bidId"`
	Amount int64  `json:"amount"`
}

type bidErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type auctionEndMsg struct {
	Type     string `json:"type"`
	WinnerID *int64 `json:"winnerId"`
	Amount   *int64 `json:"amount"`
}

type tooManyConnectionsMsg struct {
	Type  string `json:"type"`
	By    string `json:"by"`
	Limit int    `json:"limit"`
}

type rateLimitedMsg struct {
	Type   string `json:"type"`
	PerSec int    `json:"perSec"`
	Per10s int    `json:"per10s"`
}
