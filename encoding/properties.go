package encoding

import (
	"io"
)

// PropertyID identifies an MQTT 5 property.
type PropertyID byte

const (
	PropPayloadFormatIndicator          PropertyID = 0x01
	PropMessageExpiryInterval           PropertyID = 0x02
	PropContentType                     PropertyID = 0x03
	PropResponseTopic                   PropertyID = 0x08
	PropCorrelationData                 PropertyID = 0x09
	PropSubscriptionIdentifier          PropertyID = 0x0B
	PropSessionExpiryInterval           PropertyID = 0x11
	PropAssignedClientIdentifier        PropertyID = 0x12
	PropServerKeepAlive                 PropertyID = 0x13
	PropAuthenticationMethod            PropertyID = 0x15
	PropAuthenticationData              PropertyID = 0x16
	PropRequestProblemInformation       PropertyID = 0x17
	PropWillDelayInterval               PropertyID = 0x18
	PropRequestResponseInformation      PropertyID = 0x19
	PropResponseInformation             PropertyID = 0x1A
	PropServerReference                 PropertyID = 0x1C
	PropReasonString                    PropertyID = 0x1F
	PropReceiveMaximum                  PropertyID = 0x21
	PropTopicAliasMaximum               PropertyID = 0x22
	PropTopicAlias                      PropertyID = 0x23
	PropMaximumQoS                      PropertyID = 0x24
	PropRetainAvailable                 PropertyID = 0x25
	PropUserProperty                    PropertyID = 0x26
	PropMaximumPacketSize               PropertyID = 0x27
	PropWildcardSubscriptionAvailable   PropertyID = 0x28
	PropSubscriptionIdentifierAvailable PropertyID = 0x29
	PropSharedSubscriptionAvailable     PropertyID = 0x2A
)

// PropertyType is the wire encoding of a property's value.
type PropertyType byte

const (
	PropertyTypeByte        PropertyType = 1
	PropertyTypeTwoByteInt  PropertyType = 2
	PropertyTypeFourByteInt PropertyType = 3
	PropertyTypeVarInt      PropertyType = 4
	PropertyTypeUTF8String  PropertyType = 5
	PropertyTypeUTF8Pair    PropertyType = 6
	PropertyTypeBinaryData  PropertyType = 7
)

// Property is one decoded MQTT 5 property: an ID plus its value, typed
// according to propertySpecs[ID].Type (byte, uint16, uint32, string,
// UTF8Pair, or []byte).
type Property struct {
	ID    PropertyID
	Value interface{}
}

// Properties is a decoded property list, as carried by CONNECT, PUBLISH,
// and most other MQTT 5 packets.
type Properties struct {
	Properties []Property
	Length     uint32 // encoded length in bytes, excluding the length prefix itself
}

// propertySpec pins the wire type and cardinality of a PropertyID: some
// properties (subscription identifier, user property) may repeat, most may
// not.
type propertySpec struct {
	Type     PropertyType
	Multiple bool
}

var propertySpecs = map[PropertyID]propertySpec{
	PropPayloadFormatIndicator:          {PropertyTypeByte, false},
	PropMessageExpiryInterval:           {PropertyTypeFourByteInt, false},
	PropContentType:                     {PropertyTypeUTF8String, false},
	PropResponseTopic:                   {PropertyTypeUTF8String, false},
	PropCorrelationData:                 {PropertyTypeBinaryData, false},
	PropSubscriptionIdentifier:          {PropertyTypeVarInt, true},
	PropSessionExpiryInterval:           {PropertyTypeFourByteInt, false},
	PropAssignedClientIdentifier:        {PropertyTypeUTF8String, false},
	PropServerKeepAlive:                 {PropertyTypeTwoByteInt, false},
	PropAuthenticationMethod:            {PropertyTypeUTF8String, false},
	PropAuthenticationData:              {PropertyTypeBinaryData, false},
	PropRequestProblemInformation:       {PropertyTypeByte, false},
	PropWillDelayInterval:               {PropertyTypeFourByteInt, false},
	PropRequestResponseInformation:      {PropertyTypeByte, false},
	PropResponseInformation:             {PropertyTypeUTF8String, false},
	PropServerReference:                 {PropertyTypeUTF8String, false},
	PropReasonString:                    {PropertyTypeUTF8String, false},
	PropReceiveMaximum:                  {PropertyTypeTwoByteInt, false},
	PropTopicAliasMaximum:               {PropertyTypeTwoByteInt, false},
	PropTopicAlias:                      {PropertyTypeTwoByteInt, false},
	PropMaximumQoS:                      {PropertyTypeByte, false},
	PropRetainAvailable:                 {PropertyTypeByte, false},
	PropUserProperty:                    {PropertyTypeUTF8Pair, true},
	PropMaximumPacketSize:               {PropertyTypeFourByteInt, false},
	PropWildcardSubscriptionAvailable:   {PropertyTypeByte, false},
	PropSubscriptionIdentifierAvailable: {PropertyTypeByte, false},
	PropSharedSubscriptionAvailable:     {PropertyTypeByte, false},
}

// ParseProperties reads a property length prefix followed by that many
// bytes of encoded properties from r.
func ParseProperties(r io.Reader) (*Properties, error) {
	propLength, err := DecodeVariableByteInteger(r)
	if err != nil {
		return nil, err
	}

	props := &Properties{Length: propLength, Properties: make([]Property, 0, 4)}
	if propLength == 0 {
		return props, nil
	}

	limited := io.LimitedReader{R: r, N: int64(propLength)}
	for limited.N > 0 {
		prop, err := parseProperty(&limited)
		if err != nil {
			return nil, err
		}
		props.Properties = append(props.Properties, *prop)
	}
	return props, nil
}

// ParsePropertiesFromBytes decodes a property length prefix and the
// properties that follow it from data, returning the bytes consumed.
func ParsePropertiesFromBytes(data []byte) (*Properties, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrUnexpectedEOF
	}

	propLength, offset, err := DecodeVariableByteIntegerFromBytes(data)
	if err != nil {
		return nil, 0, err
	}

	props := &Properties{Length: propLength, Properties: make([]Property, 0)}
	if propLength == 0 {
		return props, offset, nil
	}
	if len(data[offset:]) < int(propLength) {
		return nil, 0, ErrUnexpectedEOF
	}

	end := offset + int(propLength)
	for offset < end {
		prop, n, err := parsePropertyFromBytes(data[offset:])
		if err != nil {
			return nil, 0, err
		}
		props.Properties = append(props.Properties, *prop)
		offset += n
	}
	return props, offset, nil
}

func parseProperty(r io.Reader) (*Property, error) {
	id, err := readByte(r)
	if err != nil {
		return nil, err
	}

	propID := PropertyID(id)
	spec, ok := propertySpecs[propID]
	if !ok {
		return nil, ErrInvalidPropertyID
	}

	prop := &Property{ID: propID}
	switch spec.Type {
	case PropertyTypeByte:
		prop.Value, err = readByte(r)
	case PropertyTypeTwoByteInt:
		prop.Value, err = readTwoByteInt(r)
	case PropertyTypeFourByteInt:
		prop.Value, err = readFourByteInt(r)
	case PropertyTypeVarInt:
		prop.Value, err = DecodeVariableByteInteger(r)
	case PropertyTypeUTF8String:
		prop.Value, err = readUTF8String(r)
	case PropertyTypeUTF8Pair:
		prop.Value, err = readUTF8Pair(r)
	case PropertyTypeBinaryData:
		prop.Value, err = readBinaryData(r)
	default:
		return nil, ErrInvalidPropertyType
	}
	if err != nil {
		return nil, err
	}
	return prop, nil
}

func parsePropertyFromBytes(data []byte) (*Property, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrUnexpectedEOF
	}

	propID := PropertyID(data[0])
	spec, ok := propertySpecs[propID]
	if !ok {
		return nil, 0, ErrInvalidPropertyID
	}

	prop := &Property{ID: propID}
	rest := data[1:]
	var n int
	var err error
	switch spec.Type {
	case PropertyTypeByte:
		prop.Value, n, err = readByteFromBytes(rest)
	case PropertyTypeTwoByteInt:
		prop.Value, n, err = readTwoByteIntFromBytes(rest)
	case PropertyTypeFourByteInt:
		prop.Value, n, err = readFourByteIntFromBytes(rest)
	case PropertyTypeVarInt:
		prop.Value, n, err = DecodeVariableByteIntegerFromBytes(rest)
	case PropertyTypeUTF8String:
		prop.Value, n, err = readUTF8StringFromBytes(rest)
	case PropertyTypeUTF8Pair:
		prop.Value, n, err = readUTF8PairFromBytes(rest)
	case PropertyTypeBinaryData:
		prop.Value, n, err = readBinaryDataFromBytes(rest)
	default:
		return nil, 0, ErrInvalidPropertyType
	}
	if err != nil {
		return nil, 0, err
	}
	return prop, 1 + n, nil
}

// EncodeProperties writes p's length prefix and properties to w.
func (p *Properties) EncodeProperties(w io.Writer) error {
	length := p.calculateLength()

	lengthBytes, err := EncodeVariableByteInteger(length)
	if err != nil {
		return err
	}
	if _, err := w.Write(lengthBytes); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	for i := range p.Properties {
		if err := encodeProperty(w, &p.Properties[i]); err != nil {
			return err
		}
	}
	return nil
}

// EncodePropertiesToBytes writes p's length prefix and properties into buf,
// returning the number of bytes written.
func (p *Properties) EncodePropertiesToBytes(buf []byte) (int, error) {
	length := p.calculateLength()

	offset, err := EncodeVariableByteIntegerTo(buf, 0, length)
	if err != nil {
		return 0, err
	}
	if length == 0 {
		return offset, nil
	}

	for i := range p.Properties {
		n, err := encodePropertyToBytes(buf[offset:], &p.Properties[i])
		if err != nil {
			return 0, err
		}
		offset += n
	}
	return offset, nil
}

func (p *Properties) calculateLength() uint32 {
	if len(p.Properties) == 0 {
		return 0
	}

	var length uint32
	for _, prop := range p.Properties {
		length++ // property ID byte

		switch propertySpecs[prop.ID].Type {
		case PropertyTypeByte:
			length += 1
		case PropertyTypeTwoByteInt:
			length += 2
		case PropertyTypeFourByteInt:
			length += 4
		case PropertyTypeVarInt:
			varIntBytes, _ := EncodeVariableByteInteger(prop.Value.(uint32))
			length += uint32(len(varIntBytes))
		case PropertyTypeUTF8String:
			length += 2 + uint32(len(prop.Value.(string)))
		case PropertyTypeUTF8Pair:
			pair := prop.Value.(UTF8Pair)
			length += 2 + uint32(len(pair.Key)) + 2 + uint32(len(pair.Value))
		case PropertyTypeBinaryData:
			length += 2 + uint32(len(prop.Value.([]byte)))
		}
	}
	return length
}

func encodeProperty(w io.Writer, prop *Property) error {
	if err := writeByte(w, byte(prop.ID)); err != nil {
		return err
	}

	switch propertySpecs[prop.ID].Type {
	case PropertyTypeByte:
		return writeByte(w, prop.Value.(byte))
	case PropertyTypeTwoByteInt:
		return writeTwoByteInt(w, prop.Value.(uint16))
	case PropertyTypeFourByteInt:
		return writeFourByteInt(w, prop.Value.(uint32))
	case PropertyTypeVarInt:
		bytes, err := EncodeVariableByteInteger(prop.Value.(uint32))
		if err != nil {
			return err
		}
		_, err = w.Write(bytes)
		return err
	case PropertyTypeUTF8String:
		return writeUTF8String(w, prop.Value.(string))
	case PropertyTypeUTF8Pair:
		return writeUTF8Pair(w, prop.Value.(UTF8Pair))
	case PropertyTypeBinaryData:
		return writeBinaryData(w, prop.Value.([]byte))
	default:
		return ErrInvalidPropertyType
	}
}

func encodePropertyToBytes(buf []byte, prop *Property) (int, error) {
	if len(buf) < 1 {
		return 0, ErrBufferTooSmall
	}
	buf[0] = byte(prop.ID)

	var n int
	var err error
	switch propertySpecs[prop.ID].Type {
	case PropertyTypeByte:
		n, err = writeByteToBytes(buf[1:], prop.Value.(byte))
	case PropertyTypeTwoByteInt:
		n, err = writeTwoByteIntToBytes(buf[1:], prop.Value.(uint16))
	case PropertyTypeFourByteInt:
		n, err = writeFourByteIntToBytes(buf[1:], prop.Value.(uint32))
	case PropertyTypeVarInt:
		n, err = EncodeVariableByteIntegerTo(buf, 1, prop.Value.(uint32))
	case PropertyTypeUTF8String:
		n, err = writeUTF8StringToBytes(buf[1:], prop.Value.(string))
	case PropertyTypeUTF8Pair:
		n, err = writeUTF8PairToBytes(buf[1:], prop.Value.(UTF8Pair))
	case PropertyTypeBinaryData:
		n, err = writeBinaryDataToBytes(buf[1:], prop.Value.([]byte))
	default:
		return 0, ErrInvalidPropertyType
	}
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// UTF8Pair is an MQTT 5 UTF-8 String Pair, used by PropUserProperty.
type UTF8Pair struct {
	Key   string
	Value string
}

// readExact fills buf from r, translating a bare EOF into ErrUnexpectedEOF
// (an MQTT field was promised by a preceding length and never delivered).
func readExact(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return ErrUnexpectedEOF
		}
		return err
	}
	return nil
}

func getUint16BE(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func getUint32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putUint16BE(buf []byte, v uint16) {
	buf[0] = byte(v >> 8)
	buf[1] = byte(v)
}

func putUint32BE(buf []byte, v uint32) {
	buf[0] = byte(v >> 24)
	buf[1] = byte(v >> 16)
	buf[2] = byte(v >> 8)
	buf[3] = byte(v)
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	if err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func readByteFromBytes(data []byte) (byte, int, error) {
	if len(data) < 1 {
		return 0, 0, ErrUnexpectedEOF
	}
	return data[0], 1, nil
}

func readTwoByteInt(r io.Reader) (uint16, error) {
	var b [2]byte
	if err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return getUint16BE(b[:]), nil
}

func readTwoByteIntFromBytes(data []byte) (uint16, int, error) {
	if len(data) < 2 {
		return 0, 0, ErrUnexpectedEOF
	}
	return getUint16BE(data), 2, nil
}

func readFourByteInt(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := readExact(r, b[:]); err != nil {
		return 0, err
	}
	return getUint32BE(b[:]), nil
}

func readFourByteIntFromBytes(data []byte) (uint32, int, error) {
	if len(data) < 4 {
		return 0, 0, ErrUnexpectedEOF
	}
	return getUint32BE(data), 4, nil
}

func readUTF8String(r io.Reader) (string, error) {
	length, err := readTwoByteInt(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ErrUnexpectedEOF
	}
	if err := ValidateUTF8String(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readUTF8StringFromBytes(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, ErrUnexpectedEOF
	}

	length := getUint16BE(data)
	offset := 2
	if length == 0 {
		return "", offset, nil
	}
	if len(data[offset:]) < int(length) {
		return "", 0, ErrUnexpectedEOF
	}

	buf := data[offset : offset+int(length)]
	if err := ValidateUTF8String(buf); err != nil {
		return "", 0, err
	}
	return string(buf), offset + int(length), nil
}

func readUTF8Pair(r io.Reader) (UTF8Pair, error) {
	key, err := readUTF8String(r)
	if err != nil {
		return UTF8Pair{}, err
	}
	value, err := readUTF8String(r)
	if err != nil {
		return UTF8Pair{}, err
	}
	return UTF8Pair{Key: key, Value: value}, nil
}

func readUTF8PairFromBytes(data []byte) (UTF8Pair, int, error) {
	key, n, err := readUTF8StringFromBytes(data)
	if err != nil {
		return UTF8Pair{}, 0, err
	}
	value, m, err := readUTF8StringFromBytes(data[n:])
	if err != nil {
		return UTF8Pair{}, 0, err
	}
	return UTF8Pair{Key: key, Value: value}, n + m, nil
}

func readBinaryData(r io.Reader) ([]byte, error) {
	length, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrUnexpectedEOF
	}
	return buf, nil
}

func readBinaryDataFromBytes(data []byte) ([]byte, int, error) {
	if len(data) < 2 {
		return nil, 0, ErrUnexpectedEOF
	}

	length := getUint16BE(data)
	offset := 2
	if length == 0 {
		return []byte{}, offset, nil
	}
	if len(data[offset:]) < int(length) {
		return nil, 0, ErrUnexpectedEOF
	}

	buf := make([]byte, length)
	copy(buf, data[offset:offset+int(length)])
	return buf, offset + int(length), nil
}

func writeByte(w io.Writer, value byte) error {
	_, err := w.Write([]byte{value})
	return err
}

func writeByteToBytes(buf []byte, value byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrBufferTooSmall
	}
	buf[0] = value
	return 1, nil
}

func writeTwoByteInt(w io.Writer, value uint16) error {
	var b [2]byte
	putUint16BE(b[:], value)
	_, err := w.Write(b[:])
	return err
}

func writeTwoByteIntToBytes(buf []byte, value uint16) (int, error) {
	if len(buf) < 2 {
		return 0, ErrBufferTooSmall
	}
	putUint16BE(buf, value)
	return 2, nil
}

func writeFourByteInt(w io.Writer, value uint32) error {
	var b [4]byte
	putUint32BE(b[:], value)
	_, err := w.Write(b[:])
	return err
}

func writeFourByteIntToBytes(buf []byte, value uint32) (int, error) {
	if len(buf) < 4 {
		return 0, ErrBufferTooSmall
	}
	putUint32BE(buf, value)
	return 4, nil
}

func writeUTF8String(w io.Writer, value string) error {
	if err := writeTwoByteInt(w, uint16(len(value))); err != nil {
		return err
	}
	if len(value) == 0 {
		return nil
	}
	_, err := w.Write([]byte(value))
	return err
}

func writeUTF8StringToBytes(buf []byte, value string) (int, error) {
	length := len(value)
	if len(buf) < 2+length {
		return 0, ErrBufferTooSmall
	}
	putUint16BE(buf, uint16(length))
	copy(buf[2:], value)
	return 2 + length, nil
}

func writeUTF8Pair(w io.Writer, value UTF8Pair) error {
	if err := writeUTF8String(w, value.Key); err != nil {
		return err
	}
	return writeUTF8String(w, value.Value)
}

func writeUTF8PairToBytes(buf []byte, value UTF8Pair) (int, error) {
	n, err := writeUTF8StringToBytes(buf, value.Key)
	if err != nil {
		return 0, err
	}
	m, err := writeUTF8StringToBytes(buf[n:], value.Value)
	if err != nil {
		return 0, err
	}
	return n + m, nil
}

func writeBinaryData(w io.Writer, value []byte) error {
	if err := writeTwoByteInt(w, uint16(len(value))); err != nil {
		return err
	}
	if len(value) == 0 {
		return nil
	}
	_, err := w.Write(value)
	return err
}

func writeBinaryDataToBytes(buf []byte, value []byte) (int, error) {
	length := len(value)
	if len(buf) < 2+length {
		return 0, ErrBufferTooSmall
	}
	putUint16BE(buf, uint16(length))
	copy(buf[2:], value)
	return 2 + length, nil
}

// GetProperty returns the first property with the given ID, or nil.
func (p *Properties) GetProperty(id PropertyID) *Property {
	for i := range p.Properties {
		if p.Properties[i].ID == id {
			return &p.Properties[i]
		}
	}
	return nil
}

// GetProperties returns every property with the given ID (for properties
// that may repeat, such as PropUserProperty).
func (p *Properties) GetProperties(id PropertyID) []Property {
	var result []Property
	for _, prop := range p.Properties {
		if prop.ID == id {
			result = append(result, prop)
		}
	}
	return result
}

// AddProperty appends a property, rejecting an unknown ID or a duplicate of
// one that isn't allowed to repeat.
func (p *Properties) AddProperty(id PropertyID, value interface{}) error {
	spec, ok := propertySpecs[id]
	if !ok {
		return ErrInvalidPropertyID
	}
	if !spec.Multiple && p.GetProperty(id) != nil {
		return ErrDuplicateProperty
	}

	p.Properties = append(p.Properties, Property{ID: id, Value: value})
	return nil
}

var propertyIDNames = map[PropertyID]string{
	PropPayloadFormatIndicator:          "PayloadFormatIndicator",
	PropMessageExpiryInterval:           "MessageExpiryInterval",
	PropContentType:                     "ContentType",
	PropResponseTopic:                   "ResponseTopic",
	PropCorrelationData:                 "CorrelationData",
	PropSubscriptionIdentifier:          "SubscriptionIdentifier",
	PropSessionExpiryInterval:           "SessionExpiryInterval",
	PropAssignedClientIdentifier:        "AssignedClientIdentifier",
	PropServerKeepAlive:                 "ServerKeepAlive",
	PropAuthenticationMethod:            "AuthenticationMethod",
	PropAuthenticationData:              "AuthenticationData",
	PropRequestProblemInformation:       "RequestProblemInformation",
	PropWillDelayInterval:               "WillDelayInterval",
	PropRequestResponseInformation:      "RequestResponseInformation",
	PropResponseInformation:             "ResponseInformation",
	PropServerReference:                 "ServerReference",
	PropReasonString:                    "ReasonString",
	PropReceiveMaximum:                  "ReceiveMaximum",
	PropTopicAliasMaximum:               "TopicAliasMaximum",
	PropTopicAlias:                      "TopicAlias",
	PropMaximumQoS:                      "MaximumQoS",
	PropRetainAvailable:                 "RetainAvailable",
	PropUserProperty:                    "UserProperty",
	PropMaximumPacketSize:               "MaximumPacketSize",
	PropWildcardSubscriptionAvailable:   "WildcardSubscriptionAvailable",
	PropSubscriptionIdentifierAvailable: "SubscriptionIdentifierAvailable",
	PropSharedSubscriptionAvailable:     "SharedSubscriptionAvailable",
}

func (id PropertyID) String() string {
	if name, ok := propertyIDNames[id]; ok {
		return name
	}
	return "UNKNOWN"
}
