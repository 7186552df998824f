package types_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/teamrun/internal/domain/model"
	"github.com/okian/teamrun/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestToRuleSets(t *testing.T) {
	Convey("Given wire rules", t, func() {
		Convey("When every class name is known", func() {
			rules, err := types.ToRuleSets([]types.RuleSpec{
				{Classes: []string{"Tank", "healer"}},
				{AllowRich: true},
				{},
			})

			Convey("Then they convert to domain rules", func() {
				So(err, ShouldBeNil)
				So(len(rules), ShouldEqual, 3)
				So(rules[0].AllowedClasses.Has(model.ClassTank), ShouldBeTrue)
				So(rules[0].AllowedClasses.Has(model.ClassHealer), ShouldBeTrue)
				So(rules[1].AllowRich, ShouldBeTrue)
				So(rules[2].Closed(), ShouldBeTrue)
			})
		})

		Convey("When a class name is unknown", func() {
			_, err := types.ToRuleSets([]types.RuleSpec{{Classes: []string{"bard"}}})

			Convey("Then it is an invalid rule", func() {
				So(errors.Is(err, model.ErrInvalidRule), ShouldBeTrue)
			})
		})
	})
}

func TestSignupRequest(t *testing.T) {
	Convey("Given signup requests", t, func() {
		Convey("When the submitter is missing", func() {
			err := types.SignupRequest{Class: "tank"}.Validate()

			Convey("Then validation fails", func() {
				So(errors.Is(err, model.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When a non-rich request has no class", func() {
			err := types.SignupRequest{SubmitterID: "u1"}.Validate()

			Convey("Then validation fails", func() {
				So(errors.Is(err, model.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When a rich request has no class", func() {
			req := types.SignupRequest{SubmitterID: "u1", IsRich: true}
			class, err := req.ClassTag()

			Convey("Then it is valid and classless", func() {
				So(req.Validate(), ShouldBeNil)
				So(err, ShouldBeNil)
				So(class, ShouldEqual, model.ClassNone)
			})
		})

		Convey("When the body is decoded from JSON", func() {
			var req types.SignupRequest
			err := json.Unmarshal([]byte(`{"submitter_id":"u1","beneficiary_id":"u2","class":"caster"}`), &req)
			class, cerr := req.ClassTag()

			Convey("Then the proxy fields and class resolve", func() {
				So(err, ShouldBeNil)
				So(cerr, ShouldBeNil)
				So(req.BeneficiaryID, ShouldEqual, "u2")
				So(class, ShouldEqual, model.ClassCaster)
			})
		})
	})
}

func TestPinRequest(t *testing.T) {
	Convey("Given pin requests", t, func() {
		Convey("When neither a record nor a beneficiary is named", func() {
			err := types.PinRequest{LeaderID: "lead"}.Validate()

			Convey("Then validation fails", func() {
				So(errors.Is(err, model.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When the leader is missing", func() {
			err := types.PinRequest{RecordID: "r1"}.Validate()

			Convey("Then validation fails", func() {
				So(errors.Is(err, model.ErrInvalidRequest), ShouldBeTrue)
			})
		})

		Convey("When a new member is pinned with a class", func() {
			req := types.PinRequest{LeaderID: "lead", BeneficiaryID: "x", Class: "healer"}
			class, err := req.ClassTag()

			Convey("Then the request is valid", func() {
				So(req.Validate(), ShouldBeNil)
				So(err, ShouldBeNil)
				So(class, ShouldEqual, model.ClassHealer)
			})
		})
	})
}

func TestPresenceRequest(t *testing.T) {
	Convey("Given a presence body", t, func() {
		var req types.PresenceRequest

		Convey("When the value is known", func() {
			err := json.Unmarshal([]byte(`{"presence":"absent"}`), &req)

			Convey("Then it decodes", func() {
				So(err, ShouldBeNil)
				So(req.Presence, ShouldEqual, model.PresenceAbsent)
			})
		})

		Convey("When the value is unknown", func() {
			err := json.Unmarshal([]byte(`{"presence":"late"}`), &req)

			Convey("Then decoding fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
