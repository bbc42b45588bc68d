// Package server contains the JSON payloads shared by HTTP handlers.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
)

// FloatT is a struct with a single float64 field, F64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, Int
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single string field, Str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single bool field, Bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// SelFloatT pairs a register selection with a float value,
// e.g. {"sel": true, "f64": 1000}
type SelFloatT struct {
	Sel bool    `json:"sel"`
	F64 float64 `json:"f64"`
}

// HumanPayload is a struct containing the basic types
// which can be returned by a handler.  T selects the field
// that is sent.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	String string
	Bool   bool
}

// payload returns the single field struct matching T
func (hp *HumanPayload) payload() (interface{}, error) {
	switch hp.T {
	case types.Float64:
		return FloatT{F64: hp.Float}, nil
	case types.Int:
		return IntT{Int: hp.Int}, nil
	case types.String:
		return StrT{Str: hp.String}, nil
	case types.Bool:
		return BoolT{Bool: hp.Bool}, nil
	default:
		return nil, fmt.Errorf("payload kind %v not understood", hp.T)
	}
}

// EncodeAndRespond writes the payload to w as JSON
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	obj, err := hp.payload()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(w).Encode(obj)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}
