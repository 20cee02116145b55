package scheduler

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	gatewayProtocolVersion = "1.0"
	gatewayParamSeparator  = ":"
	// CONTENT_TEXT references the first per-recipient param, which carries the message text
	gatewayContentTemplate = "{1}"
)

// OutboundSMS is one recipient entry of a SEND_SMS batch
type OutboundSMS struct {
	ID    string // dispatch record id, echoed back by the gateway as the correlation token
	Phone string
	Text  string
}

// DeliveryStatus is one item of a GETSTATUS response
type DeliveryStatus struct {
	ID     string
	Code   string
	Reason string
}

type sendSMSRequest struct {
	XMLName   xml.Name       `xml:"SEND_SMS"`
	Version   string         `xml:"VERSION"`
	Sender    string         `xml:"SENDER"`
	Separator string         `xml:"SEPARATOP"`
	Messages  []sendSMSBatch `xml:"TM_LIST>TM"`
}

type sendSMSBatch struct {
	Recipients []sendSMSRecipient `xml:"DST_MSISDN_LIST>DST_MSISDN"`
	Contents   []sendSMSContent   `xml:"CONTENT_LIST>CONTENT"`
}

type sendSMSRecipient struct {
	ExtraID string `xml:"extraID,attr"`
	Param   string `xml:"param,attr"`
	Phone   string `xml:",chardata"`
}

type sendSMSContent struct {
	Text string `xml:"CONTENT_TEXT"`
}

type getStatusRequest struct {
	XMLName xml.Name `xml:"GETSTATUS"`
	Version string   `xml:"VERSION"`
	IDs     []string `xml:"MSGID_LIST>MSGID"`
}

type statusItem struct {
	MsgID  string `xml:"MSGID"`
	Status string `xml:"MSGSTAT"`
	Reason string `xml:"REASON"`
}

// EncodeSendSMS renders a SEND_SMS document for the batch
func EncodeSendSMS(sender string, batch []OutboundSMS) ([]byte, error) {
	if len(batch) == 0 {
		return nil, errors.New("send_sms: empty batch")
	}
	tm := sendSMSBatch{
		Recipients: make([]sendSMSRecipient, 0, len(batch)),
		Contents:   []sendSMSContent{{Text: gatewayContentTemplate}},
	}
	for _, m := range batch {
		tm.Recipients = append(tm.Recipients, sendSMSRecipient{
			ExtraID: m.ID,
			Param:   m.Text,
			Phone:   m.Phone,
		})
	}
	return encodeXML(sendSMSRequest{
		Version:   gatewayProtocolVersion,
		Sender:    sender,
		Separator: gatewayParamSeparator,
		Messages:  []sendSMSBatch{tm},
	})
}

// EncodeGetStatus renders a GETSTATUS document for the given dispatch ids
func EncodeGetStatus(ids []string) ([]byte, error) {
	if len(ids) == 0 {
		return nil, errors.New("getstatus: no ids")
	}
	return encodeXML(getStatusRequest{
		Version: gatewayProtocolVersion,
		IDs:     ids,
	})
}

func encodeXML(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeStatusStream reads a STATUSRETURN document token by token and calls handle for every
// child of STATUS_LIST as soon as it is complete. A handle error stops decoding and is returned.
func DecodeStatusStream(r io.Reader, handle func(DeliveryStatus) error) error {
	dec := xml.NewDecoder(r)
	var path []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getstatus: decode response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if len(path) > 0 && path[len(path)-1] == "STATUS_LIST" {
				var item statusItem
				if err := dec.DecodeElement(&item, &t); err != nil {
					return fmt.Errorf("getstatus: decode status item: %w", err)
				}
				st := DeliveryStatus{
					ID:     strings.TrimSpace(item.MsgID),
					Code:   strings.TrimSpace(item.Status),
					Reason: strings.TrimSpace(item.Reason),
				}
				if st.ID == "" {
					continue
				}
				if err := handle(st); err != nil {
					return err
				}
				continue
			}
			path = append(path, t.Name.Local)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
}
