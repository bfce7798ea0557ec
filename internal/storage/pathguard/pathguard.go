// Пакет pathguard — защита от path traversal для локальных путей контента.
// Путь нормализуется (разрешаются сегменты "." и "..") и должен лежать
// внутри единственного корня хранилища. Обращений к файловой системе нет.
package pathguard

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Guard — проверка локальных путей относительно корня хранилища.
// Неизменяем после создания, безопасен для конкурентного использования.
type Guard struct {
	root string
}

// New создаёт Guard с корнем root. Корень должен быть абсолютным путём.
func New(root string) (*Guard, error) {
	if root == "" {
		return nil, fmt.Errorf("корень хранилища не задан")
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("корень хранилища должен быть абсолютным путём: %q", root)
	}
	return &Guard{root: filepath.Clean(root)}, nil
}

// Root возвращает нормализованный корень хранилища.
func (g *Guard) Root() string {
	return g.root
}

// IsValidPath сообщает, лежит ли путь после нормализации внутри корня.
// /static/../../etc/passwd → /etc/passwd → false.
// Относительные пути отклоняются.
func (g *Guard) IsValidPath(path string) bool {
	if path == "" || !filepath.IsAbs(path) {
		return false
	}
	cleaned := filepath.Clean(path)
	if cleaned == g.root {
		return true
	}
	// Корень "/" — любой абсолютный путь внутри
	if g.root == string(filepath.Separator) {
		return true
	}
	return strings.HasPrefix(cleaned, g.root+string(filepath.Separator))
}
