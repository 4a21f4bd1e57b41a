package collab

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// claims carried by the storefront credential token. the server is the
// authority that verifies the token. the client only reads claims
// unverified to label the local participant.
type ByJwt struct {
	UserId   Id
	UserName string
	UserAuth string
	Plan     string
}

func ParseByJwtUnverified(byJwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if userIdStr, ok := claims["user_id"]; ok {
		if userId, err := ParseId(userIdStr.(string)); err == nil {
			byJwt.UserId = userId
		}
	}
	if userName, ok := claims["user_name"]; ok {
		byJwt.UserName, _ = userName.(string)
	}
	if userAuth, ok := claims["user_auth"]; ok {
		byJwt.UserAuth, _ = userAuth.(string)
	}
	if plan, ok := claims["plan"]; ok {
		byJwt.Plan, _ = plan.(string)
	}

	return byJwt, nil
}
