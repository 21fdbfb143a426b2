package status

type SuccessCode int

const (
	OK        SuccessCode = 200
	Created   SuccessCode = 201
	NoContent SuccessCode = 204
)
