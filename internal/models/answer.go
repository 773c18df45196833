package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date is a calendar date answer (no time component).
type Date struct {
	time.Time
}

// TimeOfDay is a wall-clock time answer (no date component).
type TimeOfDay struct {
	time.Time
}

// Answer is a durable record of one question-response pair, decoupled from
// the live session so it can be batched and pushed downstream.
type Answer struct {
	Question         string         `json:"question"`
	Response         any            `json:"response"`
	Address          FlexID         `json:"address"`
	SessionID        FlexID         `json:"session_id"`
	Timestamp        time.Time      `json:"timestamp"`
	RowID            FlexID         `json:"row_id"`
	ResponseMetadata map[string]any `json:"response_metadata"`
}

// NewAnswer builds an answer with a generated row id and current timestamp.
func NewAnswer(question string, response any, address, sessionID FlexID) Answer {
	return Answer{
		Question:         question,
		Response:         response,
		Address:          address,
		SessionID:        sessionID,
		Timestamp:        time.Now().UTC(),
		RowID:            FlexID(NewID()),
		ResponseMetadata: map[string]any{},
	}
}

type answerWire struct {
	Question         string          `json:"question"`
	Response         json.RawMessage `json:"response"`
	Address          FlexID          `json:"address"`
	SessionID        FlexID          `json:"session_id"`
	Timestamp        string          `json:"timestamp"`
	RowID            FlexID          `json:"row_id"`
	ResponseMetadata map[string]any  `json:"response_metadata"`
}

// MarshalJSON encodes temporal responses as tagged objects so the response
// type survives the wire: {"_datetime": ...}, {"_date": ...}, {"_time": ...}.
func (a Answer) MarshalJSON() ([]byte, error) {
	response := a.Response
	switch v := response.(type) {
	case time.Time:
		response = map[string]string{"_datetime": v.Format(time.RFC3339Nano)}
	case Date:
		response = map[string]string{"_date": v.Format("2006-01-02")}
	case TimeOfDay:
		response = map[string]string{"_time": v.Format("15:04:05")}
	}

	rawResponse, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("models: encode answer response: %w", err)
	}
	return json.Marshal(answerWire{
		Question:         a.Question,
		Response:         rawResponse,
		Address:          a.Address,
		SessionID:        a.SessionID,
		Timestamp:        a.Timestamp.Format(time.RFC3339Nano),
		RowID:            a.RowID,
		ResponseMetadata: a.ResponseMetadata,
	})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var wire answerWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("models: decode answer: %w", err)
	}
	timestamp, err := time.Parse(time.RFC3339Nano, wire.Timestamp)
	if err != nil {
		return fmt.Errorf("models: decode answer timestamp: %w", err)
	}

	response, err := decodeAnswerResponse(wire.Response)
	if err != nil {
		return err
	}

	a.Question = wire.Question
	a.Response = response
	a.Address = wire.Address
	a.SessionID = wire.SessionID
	a.Timestamp = timestamp.UTC()
	a.RowID = wire.RowID
	a.ResponseMetadata = wire.ResponseMetadata
	if a.ResponseMetadata == nil {
		a.ResponseMetadata = map[string]any{}
	}
	return nil
}

func decodeAnswerResponse(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tagged map[string]string
	if err := json.Unmarshal(raw, &tagged); err == nil {
		if v, ok := tagged["_datetime"]; ok && len(tagged) == 1 {
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return nil, fmt.Errorf("models: decode answer _datetime: %w", err)
			}
			return parsed.UTC(), nil
		}
		if v, ok := tagged["_date"]; ok && len(tagged) == 1 {
			parsed, err := time.Parse("2006-01-02", v)
			if err != nil {
				return nil, fmt.Errorf("models: decode answer _date: %w", err)
			}
			return Date{parsed}, nil
		}
		if v, ok := tagged["_time"]; ok && len(tagged) == 1 {
			parsed, err := time.Parse("15:04:05", v)
			if err != nil {
				return nil, fmt.Errorf("models: decode answer _time: %w", err)
			}
			return TimeOfDay{parsed}, nil
		}
	}
	var response any
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("models: decode answer response: %w", err)
	}
	return response, nil
}

// ParseAnswer decodes a broker payload into an Answer. The question, address
// and row id are required; anything else malformed makes the payload poison.
func ParseAnswer(data []byte) (Answer, error) {
	var answer Answer
	if err := json.Unmarshal(data, &answer); err != nil {
		return Answer{}, err
	}
	if answer.Question == "" {
		return Answer{}, fmt.Errorf("models: answer missing question")
	}
	if answer.Address == "" {
		return Answer{}, fmt.Errorf("models: answer missing address")
	}
	if answer.RowID == "" {
		return Answer{}, fmt.Errorf("models: answer missing row_id")
	}
	return answer, nil
}

// ToJSON serializes the answer for publication over the broker.
func (a Answer) ToJSON() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("models: encode answer: %w", err)
	}
	return data, nil
}

// Row flattens the answer into the flow-results row shape:
// [timestamp, row_id, address, session_id, question, response, metadata].
func (a Answer) Row() []any {
	return []any{
		a.Timestamp.Format(time.RFC3339Nano),
		string(a.RowID),
		string(a.Address),
		string(a.SessionID),
		a.Question,
		a.Response,
		a.ResponseMetadata,
	}
}
