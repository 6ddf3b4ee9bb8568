package wallbox

import (
	"fmt"
	"strconv"
	"time"
)

// Decoded response types, one per vendor endpoint. The vendor wraps
// payloads in varying envelope depths (data.attributes,
// data.data.attributes, result.groups); decoding happens once here and
// nothing downstream re-parses raw JSON.

// Session holds the credentials returned by signin or refresh. Expiry
// values arrive as epoch milliseconds on the wire.
type Session struct {
	UserID        string
	Token         string
	RefreshToken  string
	Expiry        time.Time
	RefreshExpiry time.Time
}

// Expired reports whether the access token's ttl has passed.
func (s Session) Expired(now time.Time) bool {
	return !s.Expiry.After(now)
}

// StatusSnapshot is the decoded result of GET /chargers/status/{id}, the
// poll loop's authoritative view of a charger.
type StatusSnapshot struct {
	ChargerID          int
	UID                string
	Name               string
	StatusID           int
	Locked             bool
	MaxChargingCurrent float64
	AddedEnergy        float64 // kWh added this session
	ChargingTime       int     // seconds
	SyncTimestamp      time.Time
}

// ChargerData is the decoded full device snapshot from
// GET /v2/charger/{id} and the chargerData echoed by PUT /v2/charger/{id}.
type ChargerData struct {
	ID                  int
	UID                 string
	Name                string
	SerialNumber        string
	StatusID            int
	Locked              bool
	MaxChargingCurrent  float64
	MaxAvailableCurrent float64
	StateOfCharge       float64
}

// SoftwareInfo describes charger firmware state.
type SoftwareInfo struct {
	CurrentVersion  string `json:"currentVersion"`
	LatestVersion   string `json:"latestVersion"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

// ChargerConfig is the decoded result of GET /chargers/config/{id}.
type ChargerConfig struct {
	Name       string       `json:"name"`
	PartNumber string       `json:"part_number"`
	Software   SoftwareInfo `json:"software"`
}

// GroupCharger is one charger inside a charger group listing.
type GroupCharger struct {
	ID       int          `json:"id"`
	Name     string       `json:"name"`
	Software SoftwareInfo `json:"software"`
}

// ChargerGroup is one group from GET /v3/chargers/groups.
type ChargerGroup struct {
	ID       int            `json:"id"`
	UID      string         `json:"uid"`
	Name     string         `json:"name"`
	Chargers []GroupCharger `json:"chargers"`
}

// ChargerModel is the model metadata row from the organization charger
// listing.
type ChargerModel struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

// AccessConfig ties a user to the chargers of one group.
type AccessConfig struct {
	Group    int   `json:"group"`
	Chargers []int `json:"chargers"`
}

// UserInfo is the decoded result of GET /v2/user/{userId}.
type UserInfo struct {
	Name          string
	Surname       string
	AccessConfigs []AccessConfig
}

// RemoteAction values accepted by POST /v3/chargers/{id}/remote-action.
type RemoteAction string

const (
	ActionResume RemoteAction = "resume"
	ActionPause  RemoteAction = "pause"
)

// wire value for a remote action; 1 resumes or starts, 2 pauses.
func (a RemoteAction) code() int {
	if a == ActionPause {
		return 2
	}
	return 1
}

// Wire envelopes. locked travels as 0/1 on some endpoints and as a bool
// on others, so it gets a tolerant decoder.

type wireBool bool

func (b *wireBool) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

type sessionAttributes struct {
	UserID          any     `json:"user_id"`
	Token           string  `json:"token"`
	RefreshToken    string  `json:"refresh_token"`
	TTL             float64 `json:"ttl"`
	RefreshTokenTTL float64 `json:"refresh_token_ttl"`
}

type emailEnvelope struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

type signinEnvelope struct {
	Data struct {
		Attributes sessionAttributes `json:"attributes"`
	} `json:"data"`
}

// refresh wraps the same attributes one envelope level deeper than signin.
type refreshEnvelope struct {
	Data struct {
		Data struct {
			Attributes sessionAttributes `json:"attributes"`
		} `json:"data"`
	} `json:"data"`
}

type userIDEnvelope struct {
	Data struct {
		Attributes struct {
			Value any `json:"value"`
		} `json:"attributes"`
	} `json:"data"`
}

type userEnvelope struct {
	Data struct {
		Name          string         `json:"name"`
		Surname       string         `json:"surname"`
		AccessConfigs []AccessConfig `json:"accessConfigs"`
	} `json:"data"`
}

type groupsEnvelope struct {
	Result struct {
		Groups []ChargerGroup `json:"groups"`
	} `json:"result"`
}

type chargerModelsEnvelope struct {
	Data []ChargerModel `json:"data"`
}

type statusEnvelope struct {
	ConfigData struct {
		ChargerID          int      `json:"charger_id"`
		UID                string   `json:"uid"`
		Locked             wireBool `json:"locked"`
		MaxChargingCurrent float64  `json:"max_charging_current"`
		SyncTimestamp      int64    `json:"sync_timestamp"`
	} `json:"config_data"`
	Name         string  `json:"name"`
	StatusID     int     `json:"status_id"`
	AddedEnergy  float64 `json:"added_energy"`
	ChargingTime int     `json:"charging_time"`
}

type chargerDataWire struct {
	ID                  int      `json:"id"`
	UID                 string   `json:"uid"`
	Name                string   `json:"name"`
	SerialNumber        string   `json:"serialNumber"`
	Status              int      `json:"status"`
	Locked              wireBool `json:"locked"`
	MaxChargingCurrent  float64  `json:"maxChargingCurrent"`
	MaxAvailableCurrent float64  `json:"maxAvailableCurrent"`
	StateOfCharge       float64  `json:"stateOfCharge"`
}

type chargerDataEnvelope struct {
	Data struct {
		ChargerData chargerDataWire `json:"chargerData"`
	} `json:"data"`
}

func (w chargerDataWire) decoded() ChargerData {
	return ChargerData{
		ID:                  w.ID,
		UID:                 w.UID,
		Name:                w.Name,
		SerialNumber:        w.SerialNumber,
		StatusID:            w.Status,
		Locked:              bool(w.Locked),
		MaxChargingCurrent:  w.MaxChargingCurrent,
		MaxAvailableCurrent: w.MaxAvailableCurrent,
		StateOfCharge:       w.StateOfCharge,
	}
}

func (e statusEnvelope) decoded() StatusSnapshot {
	return StatusSnapshot{
		ChargerID:          e.ConfigData.ChargerID,
		UID:                e.ConfigData.UID,
		Name:               e.Name,
		StatusID:           e.StatusID,
		Locked:             bool(e.ConfigData.Locked),
		MaxChargingCurrent: e.ConfigData.MaxChargingCurrent,
		AddedEnergy:        e.AddedEnergy,
		ChargingTime:       e.ChargingTime,
		SyncTimestamp:      time.Unix(e.ConfigData.SyncTimestamp, 0),
	}
}

// user ids arrive as a number on some accounts and a string on others
func anyToString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func (a sessionAttributes) session() Session {
	return Session{
		UserID:        anyToString(a.UserID),
		Token:         a.Token,
		RefreshToken:  a.RefreshToken,
		Expiry:        time.UnixMilli(int64(a.TTL)),
		RefreshExpiry: time.UnixMilli(int64(a.RefreshTokenTTL)),
	}
}
