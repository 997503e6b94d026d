package noren

// Wire payloads for the Noren REST API. Every request travels as
// "jData=<json>" with the session token appended as "&jKey=<token>" on
// authenticated calls; responses carry stat "Ok" or "Not_Ok" plus emsg.

// QuickAuthRequest is the login payload. pwd and appkey are sha256 digests;
// factor2 is a TOTP code or a static second factor depending on the broker.
type QuickAuthRequest struct {
	AppVersion string `json:"apkversion"`
	UserID     string `json:"uid"`
	Password   string `json:"pwd"`
	Factor2    string `json:"factor2"`
	VendorCode string `json:"vc"`
	AppKey     string `json:"appkey"`
	IMEI       string `json:"imei"`
	Source     string `json:"source"`
}

type quickAuthResponse struct {
	Stat   string `json:"stat"`
	Token  string `json:"susertoken"`
	ErrMsg string `json:"emsg"`
}

type placeOrderRequest struct {
	UserID      string `json:"uid"`
	AccountID   string `json:"actid"`
	Exchange    string `json:"exch"`
	Symbol      string `json:"tsym"`
	Qty         string `json:"qty"`
	Price       string `json:"prc"`
	DiscloseQty string `json:"dscqty"`
	Product     string `json:"prd"`      // "I" intraday
	TranType    string `json:"trantype"` // "B" or "S"
	PriceType   string `json:"prctyp"`   // "MKT"
	Retention   string `json:"ret"`      // "DAY"
	Remarks     string `json:"remarks"`  // client-side order tag
}

type placeOrderResponse struct {
	Stat    string `json:"stat"`
	OrderNo string `json:"norenordno"`
	ErrMsg  string `json:"emsg"`
}

type orderHistRequest struct {
	UserID  string `json:"uid"`
	OrderNo string `json:"norenordno"`
}

type orderHistEntry struct {
	Stat     string `json:"stat"`
	Status   string `json:"status"` // REJECTED, COMPLETE, OPEN, ...
	AvgPrice string `json:"avgprc"`
	ErrMsg   string `json:"emsg"`
}

type tpSeriesRequest struct {
	UserID   string `json:"uid"`
	Token    string `json:"token"`
	Exchange string `json:"exch"`
	Start    string `json:"st"` // epoch seconds
	End      string `json:"et"`
	Interval string `json:"intrv"`
}

type tpSeriesRow struct {
	Stat  string `json:"stat"`
	Time  string `json:"time"` // dd-mm-yyyy hh:mm:ss
	Open  string `json:"into"`
	High  string `json:"inth"`
	Low   string `json:"intl"`
	Close string `json:"intc"`
}

// Streaming control frames. The type discriminator t distinguishes the
// connect ack (ck), subscription ack (tk), tick feed (tf) and order
// updates (om).

type connectFrame struct {
	T         string `json:"t"` // "c"
	UserID    string `json:"uid"`
	AccountID string `json:"actid"`
	Source    string `json:"source"`
	Token     string `json:"susertoken"`
}

type subscribeFrame struct {
	T     string `json:"t"` // "t"
	Keys  string `json:"k"` // "NSE|token#NSE|token"
	Token string `json:"susertoken"`
}

type orderSubFrame struct {
	T         string `json:"t"` // "o"
	AccountID string `json:"actid"`
	Token     string `json:"susertoken"`
}

type inFrame struct {
	T         string `json:"t"`
	S         string `json:"s"`  // connect ack status, "OK"
	Token     string `json:"tk"` // instrument token on tick frames
	LastPrice string `json:"lp"`
}
