package domain

import "errors"

var (
	// ErrTenantNotFound — арендатор не найден.
	ErrTenantNotFound = errors.New("арендатор не найден")
	// ErrGroupConfigNotFound — конфигурация группы ещё не сохранялась.
	ErrGroupConfigNotFound = errors.New("конфигурация группы не найдена")
	// ErrTermNotFound — запись кэша по термину отсутствует.
	ErrTermNotFound = errors.New("поисковый термин не найден")
)
