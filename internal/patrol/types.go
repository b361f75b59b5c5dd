package patrol

import (
	"encoding/json"
)

// TimeLayout is the timestamp format used by every portal endpoint.
const TimeLayout = "2006-01-02 15:04:05"

// UseType selects the kind of record returned by the patrol list endpoint.
type UseType int

const (
	UsePatrol     UseType = 1
	UseEvaluation UseType = 2
)

func (u UseType) String() string {
	switch u {
	case UsePatrol:
		return "patrol"
	case UseEvaluation:
		return "evaluation"
	default:
		return "unknown"
	}
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(b)
	return nil
}

// Row is one record from a list endpoint.
type Row struct {
	ID         ID     `json:"id"`
	NickName   string `json:"nickName"`
	CreateTime string `json:"createTime"`
	Msg        string `json:"msg"`
	RiverName  string `json:"riverName"`
	ActName    string `json:"actName"`
}

// listEnvelope is the response shape of the list endpoints.
type listEnvelope struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Total int    `json:"total"`
	Rows  []Row  `json:"rows"`
}

// detailEnvelope is the response shape of the activity detail endpoint.
type detailEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data *ActivityDetail `json:"data"`
}

// ActivityDetail is an activity header plus its participant sub-list.
type ActivityDetail struct {
	ID              ID          `json:"id"`
	ActName         string      `json:"actName"`
	MemberName      string      `json:"memberName"`
	StartTime       string      `json:"startTime"`
	Address         string      `json:"address"`
	ActType         int         `json:"actType"`
	MaxMemberNum    int         `json:"maxMemberNum"`
	SignInMemberNum int         `json:"signInMemberNum"`
	LookNum         int         `json:"lookNum"`
	OrgName         string      `json:"orgName"`
	Members         MemberTable `json:"activeMemberBoTableDataInfo"`
}

// Activity category labels
const (
	KindPatrol  = "巡河"
	KindCleanup = "净滩"
)

// Kind returns the activity category label.
func (d *ActivityDetail) Kind() string {
	if d.ActType == 2 {
		return KindPatrol
	}
	return KindCleanup
}

// MemberTable is the paginated participant sub-list of an activity.
type MemberTable struct {
	Total int           `json:"total"`
	Rows  []Participant `json:"rows"`
}

// Participant is one signed-up member of an activity.
type Participant struct {
	ID           ID     `json:"id"`
	NickName     string `json:"nickName"`
	Mobile       string `json:"mobile"`
	SignupStatus int    `json:"isSignupStatus"`
}

// SignedIn reports whether the participant checked in.
func (p Participant) SignedIn() bool {
	return p.SignupStatus == 1
}
