package types

import "strconv"

type Pid int32

func (p Pid) Uint32() uint32 {
	return uint32(p)
}

func (p Pid) String() string {
	return strconv.FormatInt(int64(p), 10)
}
