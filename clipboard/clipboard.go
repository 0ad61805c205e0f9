package clipboard

import cb "github.com/atotto/clipboard"

func Read() (string, error) {
	return cb.ReadAll()
}

func Write(text string) error {
	return cb.WriteAll(text)
}
