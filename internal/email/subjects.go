package email

const (
	subjectCallFailedFmt = "[llamadas] Fallo al procesar la llamada %s"
)
