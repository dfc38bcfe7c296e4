package row

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// On-disk row layout:
//
// offset  size  field
// 0       4     id (uint32)
// 4       33    username (32 bytes + NUL terminator, zero padded)
// 37      256   email (255 bytes + NUL terminator, zero padded)
//
// Total row size: 293 bytes. These offsets are part of the file format;
// a database file written by one build must read back in another.
const (
	UsernameMaxLen = 32
	EmailMaxLen    = 255

	idSize       = 4
	usernameSize = UsernameMaxLen + 1
	emailSize    = EmailMaxLen + 1

	idOffset       = 0
	usernameOffset = idOffset + idSize
	emailOffset    = usernameOffset + usernameSize

	// Size is the serialized width of one row.
	Size = idSize + usernameSize + emailSize
)

var (
	// ErrStringTooLong is returned when a username or email exceeds its
	// fixed column width.
	ErrStringTooLong = errors.New("row: string too long")
)

// Row is a single record of the table: a primary key plus two fixed-width
// text attributes.
type Row struct {
	ID       uint32
	Username string
	Email    string
}

// Validate checks the variable-width fields against their column limits.
func (r Row) Validate() error {
	if len(r.Username) > UsernameMaxLen {
		return fmt.Errorf("%w: username is %d bytes (max %d)", ErrStringTooLong, len(r.Username), UsernameMaxLen)
	}
	if len(r.Email) > EmailMaxLen {
		return fmt.Errorf("%w: email is %d bytes (max %d)", ErrStringTooLong, len(r.Email), EmailMaxLen)
	}
	return nil
}

// Serialize writes the row into dst, which must be at least Size bytes.
// Text fields are zero padded to their full column width.
func Serialize(r Row, dst []byte) error {
	if len(dst) < Size {
		return fmt.Errorf("row: serialize: dst is %d bytes, need %d", len(dst), Size)
	}
	if err := r.Validate(); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(dst[idOffset:idOffset+idSize], r.ID)

	for i := range dst[usernameOffset : usernameOffset+usernameSize] {
		dst[usernameOffset+i] = 0
	}
	copy(dst[usernameOffset:usernameOffset+UsernameMaxLen], r.Username)

	for i := range dst[emailOffset : emailOffset+emailSize] {
		dst[emailOffset+i] = 0
	}
	copy(dst[emailOffset:emailOffset+EmailMaxLen], r.Email)

	return nil
}

// SerializeStrings overwrites only the username and email regions of an
// already serialized row, leaving the id bytes untouched.
func SerializeStrings(r Row, dst []byte) error {
	if len(dst) < Size {
		return fmt.Errorf("row: serialize strings: dst is %d bytes, need %d", len(dst), Size)
	}
	if err := r.Validate(); err != nil {
		return err
	}

	for i := range dst[usernameOffset : usernameOffset+usernameSize] {
		dst[usernameOffset+i] = 0
	}
	copy(dst[usernameOffset:usernameOffset+UsernameMaxLen], r.Username)

	for i := range dst[emailOffset : emailOffset+emailSize] {
		dst[emailOffset+i] = 0
	}
	copy(dst[emailOffset:emailOffset+EmailMaxLen], r.Email)

	return nil
}

// Deserialize reads a row back out of src. Trailing NUL padding is stripped
// from the text fields.
func Deserialize(src []byte) (Row, error) {
	if len(src) < Size {
		return Row{}, fmt.Errorf("row: deserialize: src is %d bytes, need %d", len(src), Size)
	}
	return Row{
		ID:       binary.LittleEndian.Uint32(src[idOffset : idOffset+idSize]),
		Username: cString(src[usernameOffset : usernameOffset+usernameSize]),
		Email:    cString(src[emailOffset : emailOffset+emailSize]),
	}, nil
}

// cString interprets buf as a NUL-terminated string.
func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
