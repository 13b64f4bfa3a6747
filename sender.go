package crosslogin

import "log"

// CodeSender delivers verification codes to the user. The transport
// (SMTP, SMS gateway, ...) is an application concern; a send failure is
// logged best-effort and never rolls back code issuance — the user
// simply receives no message and can request a resend.
type CodeSender interface {
	SendEmailCode(to string, purpose CodePurpose, code string) error
	SendPhoneCode(to string, purpose CodePurpose, code string) error
}

// ConsoleCodeSender is a development implementation that logs codes to
// the console.
type ConsoleCodeSender struct{}

func (c *ConsoleCodeSender) SendEmailCode(to string, purpose CodePurpose, code string) error {
	log.Printf("\n=== EMAIL: %s code ===", purpose)
	log.Printf("To: %s", to)
	log.Printf("Your verification code is: %s", code)
	log.Printf("======================\n")
	return nil
}

func (c *ConsoleCodeSender) SendPhoneCode(to string, purpose CodePurpose, code string) error {
	log.Printf("\n=== SMS: %s code ===", purpose)
	log.Printf("To: %s", to)
	log.Printf("Your verification code is: %s", code)
	log.Printf("====================\n")
	return nil
}
